package httpserver

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yuanjing-labs/yuanjing-core/internal/apierr"
	"github.com/yuanjing-labs/yuanjing-core/internal/evidence"
	"github.com/yuanjing-labs/yuanjing-core/internal/export"
	"github.com/yuanjing-labs/yuanjing-core/internal/mmrstore"
	"github.com/yuanjing-labs/yuanjing-core/internal/whitelist"
)

// --- POST /model/register ---

type registerRequest struct {
	Hash        string `json:"hash"`
	Description string `json:"description"`
}

type registerResponse struct {
	Status string `json:"status"`
}

func handleRegister(app *AppContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apierr.WriteError(w, apierr.Wrap(apierr.BadRequest, "invalid json body", err))
			return
		}

		hash, err := decodeHash32(req.Hash)
		if err != nil {
			apierr.WriteError(w, apierr.Wrap(apierr.BadRequest, "invalid hash", err))
			return
		}
		if req.Description == "" {
			apierr.WriteError(w, apierr.New(apierr.BadRequest, "description required"))
			return
		}

		status, err := app.Whitelist.Register(hash, req.Description)
		if err != nil {
			apierr.WriteError(w, err)
			return
		}
		if status == whitelist.AlreadyExists {
			apierr.WriteError(w, apierr.New(apierr.Conflict, "hash already registered with a different description"))
			return
		}

		writeJSON(w, http.StatusOK, registerResponse{Status: string(status)})
	}
}

// --- POST /prove ---

type proveRequest struct {
	ImagePath             string   `json:"image_path"`
	Verdict               bool     `json:"verdict"`
	Confidence            string   `json:"confidence"`
	Source                *string  `json:"source,omitempty"`
	PromptPoolHash        string   `json:"prompt_pool_hash"`
	ActivatedPrompts      []uint32 `json:"activated_prompts"`
	ExternalKnowledgeHash string   `json:"external_knowledge_hash,omitempty"`
}

type proveResponse struct {
	RootHash     string                 `json:"root_hash"`
	LeafPos      uint64                 `json:"leaf_pos"`
	Signature    string                 `json:"signature"`
	EvidenceDump map[string]interface{} `json:"evidence_dump"`
}

func handleProve(app *AppContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req proveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apierr.WriteError(w, apierr.Wrap(apierr.BadRequest, "invalid json body", err))
			return
		}
		if req.ImagePath == "" {
			apierr.WriteError(w, apierr.New(apierr.BadRequest, "image_path required"))
			return
		}

		poolHash, err := decodeHash32(req.PromptPoolHash)
		if err != nil {
			apierr.WriteError(w, apierr.Wrap(apierr.BadRequest, "invalid prompt_pool_hash", err))
			return
		}

		var extHash [32]byte
		if req.ExternalKnowledgeHash != "" {
			extHash, err = decodeHash32(req.ExternalKnowledgeHash)
			if err != nil {
				apierr.WriteError(w, apierr.Wrap(apierr.BadRequest, "invalid external_knowledge_hash", err))
				return
			}
		}

		receipt, err := app.Orchestrator.Prove(r.Context(), evidence.ProveRequest{
			ImagePath:             req.ImagePath,
			Verdict:               req.Verdict,
			Confidence:            req.Confidence,
			Source:                req.Source,
			PromptPoolHash:        poolHash,
			ActivatedPrompts:      req.ActivatedPrompts,
			ExternalKnowledgeHash: extHash,
		})
		if err != nil {
			apierr.WriteError(w, err)
			return
		}

		dump := evidenceDump(receipt.Evidence)
		rootHex := hex.EncodeToString(receipt.Root[:])
		sigHex := hex.EncodeToString(receipt.Signature)

		if app.Exporter != nil {
			app.Exporter.Enqueue(export.Receipt{
				Root:         rootHex,
				LeafPosition: receipt.LeafPosition,
				Signature:    sigHex,
				Evidence:     dump,
				At:           time.Now().UTC(),
			})
		}

		writeJSON(w, http.StatusOK, proveResponse{
			RootHash:     rootHex,
			LeafPos:      receipt.LeafPosition,
			Signature:    sigHex,
			EvidenceDump: dump,
		})
	}
}

func evidenceDump(e *evidence.Evidence) map[string]interface{} {
	dump := map[string]interface{}{
		"image_sha256":            hex.EncodeToString(e.ImageSHA256[:]),
		"image_phash":             strconv.FormatUint(e.ImagePHash, 16),
		"verdict":                 e.Verdict,
		"confidence":              e.Confidence,
		"activated_prompts":       e.ActivatedPrompts,
		"prompt_pool_hash":        hex.EncodeToString(e.PromptPoolHash[:]),
		"external_knowledge_hash": hex.EncodeToString(e.ExternalKnowledgeHash[:]),
		"timestamp":               e.Timestamp,
	}
	if e.Source != nil {
		dump["source"] = *e.Source
	}
	return dump
}

// --- GET /audit/{pos} ---

type auditResponse struct {
	ProofValid bool     `json:"proof_valid"`
	LeafPos    uint64   `json:"leaf_pos"`
	ProofHex   []string `json:"proof_hex"`
	PeakIndex  int      `json:"peak_index"`
	RootHex    string   `json:"root_hex"`
}

func handleAudit(app *AppContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		posStr := chi.URLParam(r, "pos")
		pos, err := strconv.ParseUint(posStr, 10, 64)
		if err != nil {
			apierr.WriteError(w, apierr.Wrap(apierr.BadRequest, "invalid position", err))
			return
		}

		proof, err := app.MMR.Proof(pos)
		if err != nil {
			apierr.WriteError(w, err)
			return
		}
		root, err := app.MMR.Root()
		if err != nil {
			apierr.WriteError(w, err)
			return
		}
		leafDigest, err := app.MMR.LeafDigest(pos)
		if err != nil {
			apierr.WriteError(w, err)
			return
		}

		valid := mmrstore.Verify(leafDigest, pos, proof, root)

		proofHex := make([]string, 0, len(proof.Siblings)+len(proof.Peaks))
		for _, s := range proof.Siblings {
			proofHex = append(proofHex, hex.EncodeToString(s[:]))
		}
		for _, p := range proof.Peaks {
			proofHex = append(proofHex, hex.EncodeToString(p[:]))
		}

		writeJSON(w, http.StatusOK, auditResponse{
			ProofValid: valid,
			LeafPos:    pos,
			ProofHex:   proofHex,
			PeakIndex:  proof.PeakIndex,
			RootHex:    hex.EncodeToString(root[:]),
		})
	}
}

// --- helpers ---

func decodeHash32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
