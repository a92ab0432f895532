package pairing

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// deviceRecord is the serializable form of a paired device's credentials.
// Only the SHA-256 of the token is stored; the clear token exists once, in
// the pairing response to the device.
type deviceRecord struct {
	TokenHash string    `json:"token_hash"`
	ProjectID string    `json:"project_id"`
	PairedAt  time.Time `json:"paired_at"`
}

// MintDeviceToken creates a device token for a freshly paired device and
// stores its hash. The clear token is returned exactly once and must be
// handed to the device for reconnection. Re-minting for an existing device
// overwrites the previous token.
func (s *CodeStore) MintDeviceToken(ctx context.Context, deviceID string, projectID uuid.UUID) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to draw device token: %w", err)
	}
	token := hex.EncodeToString(buf)

	rec := deviceRecord{
		TokenHash: hashToken(token),
		ProjectID: projectID.String(),
		PairedAt:  time.Now().UTC(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to marshal device record: %w", err)
	}

	// Device tokens don't expire (TTL=0); they are revoked by deleting the key.
	if err := s.client.Set(ctx, tokenKey(s.keyPrefix, deviceID), data, 0).Err(); err != nil {
		return "", fmt.Errorf("failed to store device token: %w", err)
	}
	return token, nil
}

// ValidateDeviceToken checks a presented reconnection token against the hash
// on record and returns the project the device was paired into. Comparison is
// constant-time. Returns ErrTokenNotFound for unknown devices and
// ErrTokenMismatch for a wrong token.
func (s *CodeStore) ValidateDeviceToken(ctx context.Context, deviceID, token string) (uuid.UUID, error) {
	data, err := s.client.Get(ctx, tokenKey(s.keyPrefix, deviceID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return uuid.Nil, ErrTokenNotFound
		}
		return uuid.Nil, fmt.Errorf("failed to get device token: %w", err)
	}

	var rec deviceRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return uuid.Nil, fmt.Errorf("failed to unmarshal device record: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(hashToken(token)), []byte(rec.TokenHash)) != 1 {
		return uuid.Nil, ErrTokenMismatch
	}

	projectID, err := uuid.Parse(rec.ProjectID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("corrupt device record: %w", err)
	}
	return projectID, nil
}

// RevokeDeviceToken deletes the token record for a device, forcing it back
// through pairing on its next connection attempt.
func (s *CodeStore) RevokeDeviceToken(ctx context.Context, deviceID string) error {
	if err := s.client.Del(ctx, tokenKey(s.keyPrefix, deviceID)).Err(); err != nil {
		return fmt.Errorf("failed to revoke device token: %w", err)
	}
	return nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
