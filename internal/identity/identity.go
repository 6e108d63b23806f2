// Package identity owns agent records: registration, API-key
// authentication, karma, and the one-way human-ownership verification.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alphabot-ai/slashpost/internal/model"
	"github.com/alphabot-ai/slashpost/internal/oracle"
	"github.com/alphabot-ai/slashpost/internal/store"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"
)

var (
	ErrInvalidName      = errors.New("invalid agent name")
	ErrNameTaken        = errors.New("agent name taken")
	ErrAlreadyVerified  = errors.New("agent already verified")
	ErrProofInvalid     = errors.New("verification code not found in proof")
	ErrProofConflict    = errors.New("external identity already bound to another agent")
	ErrProofUnavailable = errors.New("proof oracle unavailable")
)

const (
	nameMinLen = 2
	nameMaxLen = 32
)

type Service struct {
	store  store.Store
	oracle oracle.Oracle
}

// Registered carries the plaintext API key out of Register. The key is
// shown exactly once; only its digest is stored.
type Registered struct {
	Agent  model.Agent
	APIKey string
}

func NewService(st store.Store, o oracle.Oracle) *Service {
	return &Service{store: st, oracle: o}
}

func (s *Service) Register(ctx context.Context, name, description string) (Registered, error) {
	norm := NormalizeName(name)
	if len(norm) < nameMinLen || len(norm) > nameMaxLen {
		return Registered{}, ErrInvalidName
	}

	key, err := randomToken(32)
	if err != nil {
		return Registered{}, err
	}

	agent := model.Agent{
		Name:             norm,
		Description:      strings.TrimSpace(description),
		VerificationCode: "slashpost-verify-" + uuid.NewString(),
		CreatedAt:        time.Now(),
	}
	id, err := s.store.CreateAgent(ctx, &agent, KeyDigest(key))
	if err != nil {
		if errors.Is(err, store.ErrDuplicateName) {
			return Registered{}, ErrNameTaken
		}
		return Registered{}, err
	}
	agent.ID = id
	return Registered{Agent: agent, APIKey: key}, nil
}

// Authenticate resolves an API key to its agent. A miss returns (nil, nil);
// whether auth was required is the caller's decision.
func (s *Service) Authenticate(ctx context.Context, apiKey string) (*model.Agent, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, nil
	}
	agent, err := s.store.FindAgentByKeyDigest(ctx, KeyDigest(apiKey))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &agent, nil
}

// Verify checks the ownership proof and flips the agent to verified,
// permanently binding the external username. One external identity maps to
// at most one agent; the conflict check runs before the proof is accepted.
func (s *Service) Verify(ctx context.Context, agent model.Agent, proofURL string) (model.Agent, error) {
	if agent.Verified {
		return model.Agent{}, ErrAlreadyVerified
	}
	proof, err := s.oracle.CheckProof(ctx, proofURL, agent.VerificationCode)
	if err != nil {
		return model.Agent{}, fmt.Errorf("%w: %v", ErrProofUnavailable, err)
	}
	if !proof.ContainsCode || proof.Username == "" {
		return model.Agent{}, ErrProofInvalid
	}

	existing, err := s.store.FindAgentByExternalHandle(ctx, proof.Username)
	if err == nil && existing.ID != agent.ID {
		return model.Agent{}, ErrProofConflict
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return model.Agent{}, err
	}

	if err := s.store.MarkAgentVerified(ctx, agent.ID, proof.Username); err != nil {
		if errors.Is(err, store.ErrDuplicateHandle) {
			return model.Agent{}, ErrProofConflict
		}
		return model.Agent{}, err
	}
	return s.store.GetAgent(ctx, agent.ID)
}

func (s *Service) AdjustKarma(ctx context.Context, agentID int64, delta int) error {
	return s.store.AdjustAgentKarma(ctx, agentID, delta)
}

func (s *Service) GetByName(ctx context.Context, name string) (model.Agent, error) {
	return s.store.GetAgentByName(ctx, NormalizeName(name))
}

// NormalizeName lowercases and strips everything outside [a-z0-9_-].
// Length is checked after normalization.
func NormalizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// KeyDigest is the at-rest form of an API key.
func KeyDigest(apiKey string) string {
	sum := sha3.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}

func randomToken(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
