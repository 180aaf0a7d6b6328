package core

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/tascade/tascade/internal/storage"
	"github.com/tascade/tascade/internal/types"
)

// Raw API keys look like tsc_<32 hex chars>. The prefix (tsc_ plus the
// first 8 hex chars) is stored for lookup; the rest only ever exists as a
// SHA-256 hash.
const (
	keyPrefixLen = 12
	keyRandBytes = 16
)

// IssuedKey pairs a stored key with the raw secret, returned exactly once
// at issue time.
type IssuedKey struct {
	Key *types.APIKey `json:"key"`
	Raw string        `json:"raw_key"`
}

// APIKeyInput describes a key to issue. An empty ProjectRef creates a
// global key, which requires the admin role among its scopes.
type APIKeyInput struct {
	ProjectRef string
	Name       string
	Scopes     types.RoleScopes
	Actor      string
}

// IssueAPIKey mints a credential. The raw key is returned once and never
// persisted; only its hash and display prefix are stored.
func (c *Coordinator) IssueAPIKey(ctx context.Context, in APIKeyInput) (*IssuedKey, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, types.NewError(types.ErrInvariantViolation, "key name is required")
	}
	if len(in.Scopes) == 0 {
		return nil, types.NewError(types.ErrInvariantViolation, "key requires at least one role scope")
	}
	for _, r := range in.Scopes {
		if !types.ValidRoleScope(r) {
			return nil, types.NewError(types.ErrAuthDenied, "unknown role scope %q", r)
		}
	}
	if in.ProjectRef == "" && !in.Scopes.Has(types.RoleAdmin) {
		return nil, types.NewError(types.ErrAuthDenied, "keys spanning all projects require the admin role")
	}

	raw, prefix, hash, err := mintKey()
	if err != nil {
		return nil, err
	}
	key := &types.APIKey{
		ID:      newID(),
		Name:    in.Name,
		Prefix:  prefix,
		KeyHash: hash,
		Scopes:  in.Scopes,
		Status:  types.KeyActive,
	}
	err = c.write(ctx, func(tx storage.Transaction) error {
		if in.ProjectRef != "" {
			p, err := tx.GetProject(ctx, in.ProjectRef)
			if err != nil {
				return err
			}
			key.ProjectID = p.ID
		}
		if err := tx.CreateAPIKey(ctx, key); err != nil {
			return err
		}
		if key.ProjectID == "" {
			return nil // global keys have no project log to land in
		}
		return appendEvent(ctx, tx, key.ProjectID, "apikey", key.ID, types.EventAPIKeyIssued, in.Actor, map[string]any{
			"name":   key.Name,
			"prefix": key.Prefix,
			"scopes": key.Scopes.String(),
		})
	})
	if err != nil {
		return nil, err
	}
	c.log.Info().
		Str("key", key.Prefix).
		Str("name", key.Name).
		Str("scopes", key.Scopes.String()).
		Msg("api key issued")
	return &IssuedKey{Key: key, Raw: raw}, nil
}

// RevokeAPIKey invalidates a key by ID or prefix.
func (c *Coordinator) RevokeAPIKey(ctx context.Context, ref, actor string) error {
	return c.write(ctx, func(tx storage.Transaction) error {
		key, err := findAPIKey(ctx, tx, ref)
		if err != nil {
			return err
		}
		if err := tx.RevokeAPIKey(ctx, key.ID, time.Now().UTC()); err != nil {
			return err
		}
		if key.ProjectID == "" {
			return nil
		}
		return appendEvent(ctx, tx, key.ProjectID, "apikey", key.ID, types.EventAPIKeyRevoked, actor, map[string]any{
			"name":   key.Name,
			"prefix": key.Prefix,
		})
	})
}

// ListAPIKeys returns stored keys, scoped to a project when ref is set.
// Hashes never leave storage; raw keys were never there.
func (c *Coordinator) ListAPIKeys(ctx context.Context, projectRef string) ([]*types.APIKey, error) {
	projectID := ""
	if projectRef != "" {
		p, err := c.store.GetProject(ctx, projectRef)
		if err != nil {
			return nil, err
		}
		projectID = p.ID
	}
	return c.store.ListAPIKeys(ctx, projectID)
}

// Authenticate verifies a raw bearer key and returns the caller identity.
// Lookup is by prefix; the full key is then compared in constant time
// against the stored hash.
func (c *Coordinator) Authenticate(ctx context.Context, rawKey string) (*types.Identity, error) {
	rawKey = strings.TrimSpace(rawKey)
	if len(rawKey) < keyPrefixLen || !strings.HasPrefix(rawKey, "tsc_") {
		return nil, types.NewError(types.ErrAuthDenied, "invalid api key")
	}
	key, err := c.store.GetAPIKeyByPrefix(ctx, rawKey[:keyPrefixLen])
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, types.NewError(types.ErrAuthDenied, "invalid api key")
	}
	sum := sha256.Sum256([]byte(rawKey))
	if subtle.ConstantTimeCompare([]byte(hex.EncodeToString(sum[:])), []byte(key.KeyHash)) != 1 {
		return nil, types.NewError(types.ErrAuthDenied, "invalid api key")
	}
	return &types.Identity{
		KeyID:     key.ID,
		Name:      key.Name,
		ProjectID: key.ProjectID,
		Scopes:    key.Scopes,
	}, nil
}

func mintKey() (raw, prefix, hash string, err error) {
	buf := make([]byte, keyRandBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", "", fmt.Errorf("failed to generate key material: %w", err)
	}
	raw = "tsc_" + hex.EncodeToString(buf)
	sum := sha256.Sum256([]byte(raw))
	return raw, raw[:keyPrefixLen], hex.EncodeToString(sum[:]), nil
}

func findAPIKey(ctx context.Context, r storage.Reader, ref string) (*types.APIKey, error) {
	if strings.HasPrefix(ref, "tsc_") && len(ref) >= keyPrefixLen {
		if key, err := r.GetAPIKeyByPrefix(ctx, ref[:keyPrefixLen]); err != nil {
			return nil, err
		} else if key != nil {
			return key, nil
		}
		return nil, types.NotFound("api key", ref[:keyPrefixLen])
	}
	keys, err := r.ListAPIKeys(ctx, "")
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		if k.ID == ref {
			return k, nil
		}
	}
	return nil, types.NotFound("api key", ref)
}
