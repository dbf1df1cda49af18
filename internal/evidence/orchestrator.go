package evidence

import (
	"context"
	"time"

	"github.com/yuanjing-labs/yuanjing-core/internal/apierr"
	"github.com/yuanjing-labs/yuanjing-core/internal/fingerprint"
	"github.com/yuanjing-labs/yuanjing-core/internal/identity"
	"github.com/yuanjing-labs/yuanjing-core/internal/mmrstore"
	"github.com/yuanjing-labs/yuanjing-core/internal/whitelist"
)

// ProveRequest is the admission input for a prove request. The HTTP layer
// is responsible for decoding its own wire schema into this struct; the
// orchestrator never touches JSON.
type ProveRequest struct {
	ImagePath             string
	Verdict               bool
	Confidence            string
	Source                *string
	PromptPoolHash        [32]byte
	ActivatedPrompts      []uint32
	ExternalKnowledgeHash [32]byte
}

// Receipt is what a successful Prove call returns: enough for the caller
// to both respond to the client and hand the evidence to the export
// streamer.
type Receipt struct {
	Root         mmrstore.Digest
	LeafPosition uint64
	Signature    []byte
	Evidence     *Evidence
}

// Orchestrator wires the whitelist, fingerprint pool, signer, and MMR
// into the prove admission path. It holds no state of its own beyond
// references to the shared singletons; all of them are safe for
// concurrent use.
type Orchestrator struct {
	Whitelist   *whitelist.Registry
	Fingerprint *fingerprint.Pool
	Signer      identity.Signer
	MMR         *mmrstore.Store
}

// Prove runs the admission algorithm:
//  1. reject if the prompt pool hash isn't registered
//  2. fingerprint the file off the reactor
//  3. capture an advisory timestamp
//  4. assemble Evidence in the frozen field order
//  5. canonical-encode, sign, and compute the leaf digest from the same bytes
//  6. append the leaf to the MMR
//  7. return the receipt
func (o *Orchestrator) Prove(ctx context.Context, req ProveRequest) (*Receipt, error) {
	if !o.Whitelist.Contains(req.PromptPoolHash) {
		return nil, apierr.New(apierr.BadRequest, "prompt_pool_hash is not registered")
	}

	fp, err := o.Fingerprint.Submit(ctx, req.ImagePath)
	if err != nil {
		return nil, err
	}

	ts := time.Now().Unix()

	ev := &Evidence{
		ImageSHA256:           fp.SHA256,
		ImagePHash:            fp.PHash,
		Verdict:               req.Verdict,
		Confidence:            req.Confidence,
		ActivatedPrompts:      req.ActivatedPrompts,
		PromptPoolHash:        req.PromptPoolHash,
		ExternalKnowledgeHash: req.ExternalKnowledgeHash,
		Timestamp:             ts,
		Source:                req.Source,
	}

	// The correctness-critical span: encode, sign, and leaf-hash must all
	// see the same byte sequence, and that sequence must be the one the
	// MMR append below commits.
	encoded := ev.Encode()
	sig, err := o.Signer.Sign(encoded)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "sign evidence", err)
	}
	leaf := mmrstore.LeafHash(encoded)

	leafPos, err := o.MMR.Append(leaf)
	if err != nil {
		return nil, err
	}

	root, err := o.MMR.Root()
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "compute mmr root", err)
	}

	return &Receipt{
		Root:         root,
		LeafPosition: leafPos,
		Signature:    sig,
		Evidence:     ev,
	}, nil
}
