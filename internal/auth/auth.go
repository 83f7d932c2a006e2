package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/akolanti/kbAPI/internal/adapter/utils"
	"github.com/akolanti/kbAPI/internal/data/metaStore"
	"github.com/akolanti/kbAPI/internal/domain/kbModel"
	"github.com/akolanti/kbAPI/pkg/logger_i"
)

// Credential schemes. Admin keys manage tenants and keys, scoped keys touch
// one tenant's data. The two header names are distinct on purpose: a scoped
// key presented on the admin header fails, and the other way around.
const (
	SchemeAdmin  = "Admin-Key"
	SchemeScoped = "API-Key"
)

// Service resolves presented credentials into scopes and manages the key
// lifecycle. Core operations only ever see a Scope.
type Service interface {
	// Resolve checks a credential under the given scheme. It has no side
	// effects: usage recording is a separate, explicit step.
	Resolve(ctx context.Context, scheme string, credential string) (kbModel.Scope, error)
	// RecordUsage stamps last-used on a key. Called by the transport layer
	// after a successful resolve, never during it.
	RecordUsage(ctx context.Context, keyId string) error

	CreateKey(ctx context.Context, name string, role kbModel.KeyRole, tenantId string) (kbModel.ApiKey, string, error)
	ListKeys(ctx context.Context) ([]kbModel.ApiKey, error)
	DeactivateKey(ctx context.Context, keyId string) error
	DeleteKey(ctx context.Context, keyId string) error
}

type service struct {
	meta      metaStore.MetadataStore
	bootstrap string //admin secret from the environment, empty disables it
	logger    *logger_i.Logger
}

func NewService(meta metaStore.MetadataStore, bootstrapKey string) Service {
	return &service{
		meta:      meta,
		bootstrap: bootstrapKey,
		logger:    logger_i.NewLogger("Auth Service :"),
	}
}

// CreateKey mints a key and returns the one-time plaintext credential in the
// form <keyId>.<secret>. The secret is never stored, only its salted hash.
func (s *service) CreateKey(ctx context.Context, name string, role kbModel.KeyRole, tenantId string) (kbModel.ApiKey, string, error) {
	if role != kbModel.RoleAdmin && role != kbModel.RoleScoped {
		return kbModel.ApiKey{}, "", fmt.Errorf("unknown role %q", role)
	}
	if role == kbModel.RoleScoped && tenantId == "" {
		return kbModel.ApiKey{}, "", errors.New("scoped keys need a tenant")
	}
	if role == kbModel.RoleAdmin && tenantId != "" {
		return kbModel.ApiKey{}, "", errors.New("admin keys are not tenant-bound")
	}

	secret, err := randomHex(32)
	if err != nil {
		return kbModel.ApiKey{}, "", err
	}
	salt, err := randomHex(16)
	if err != nil {
		return kbModel.ApiKey{}, "", err
	}

	key := kbModel.ApiKey{
		Id:         utils.GetNewUUID(),
		Name:       name,
		SecretHash: hashSecret(salt, secret),
		Salt:       salt,
		Role:       role,
		TenantId:   tenantId,
		IsActive:   true,
		CreatedAt:  time.Now(),
	}
	if err := s.meta.CreateApiKey(ctx, key); err != nil {
		return kbModel.ApiKey{}, "", err
	}

	s.logger.Info("api key created", "keyId", key.Id, "role", role)
	return key, key.Id + "." + secret, nil
}

func (s *service) Resolve(ctx context.Context, scheme string, credential string) (kbModel.Scope, error) {
	//the environment bootstrap key lets the first admin key get minted
	if scheme == SchemeAdmin && s.bootstrap != "" &&
		subtle.ConstantTimeCompare([]byte(credential), []byte(s.bootstrap)) == 1 {
		return kbModel.Scope{KeyId: "bootstrap", Role: kbModel.RoleAdmin}, nil
	}

	keyId, secret, ok := strings.Cut(credential, ".")
	if !ok || keyId == "" || secret == "" {
		return kbModel.Scope{}, kbModel.ErrKeyInactive
	}

	key, err := s.meta.GetApiKey(ctx, keyId)
	if err != nil {
		if errors.Is(err, kbModel.ErrNotFound) {
			return kbModel.Scope{}, kbModel.ErrKeyInactive
		}
		return kbModel.Scope{}, err
	}

	expected, err := hex.DecodeString(key.SecretHash)
	if err != nil {
		return kbModel.Scope{}, kbModel.ErrKeyInactive
	}
	presented := sha256.Sum256([]byte(key.Salt + secret))
	if subtle.ConstantTimeCompare(presented[:], expected) != 1 {
		return kbModel.Scope{}, kbModel.ErrKeyInactive
	}

	//only now do we look at state, a wrong secret never learns anything
	if !key.IsActive {
		return kbModel.Scope{}, kbModel.ErrKeyInactive
	}

	switch scheme {
	case SchemeAdmin:
		if key.Role != kbModel.RoleAdmin {
			return kbModel.Scope{}, kbModel.ErrScopeMismatch
		}
	case SchemeScoped:
		if key.Role != kbModel.RoleScoped {
			return kbModel.Scope{}, kbModel.ErrScopeMismatch
		}
	default:
		return kbModel.Scope{}, kbModel.ErrScopeMismatch
	}

	return kbModel.Scope{KeyId: key.Id, Role: key.Role, TenantId: key.TenantId}, nil
}

func (s *service) RecordUsage(ctx context.Context, keyId string) error {
	if keyId == "bootstrap" {
		return nil
	}
	return s.meta.TouchApiKey(ctx, keyId, time.Now())
}

func (s *service) ListKeys(ctx context.Context) ([]kbModel.ApiKey, error) {
	return s.meta.ListApiKeys(ctx)
}

func (s *service) DeactivateKey(ctx context.Context, keyId string) error {
	key, err := s.meta.GetApiKey(ctx, keyId)
	if err != nil {
		return err
	}
	key.IsActive = false
	return s.meta.UpdateApiKey(ctx, key)
}

func (s *service) DeleteKey(ctx context.Context, keyId string) error {
	return s.meta.DeleteApiKey(ctx, keyId)
}

func hashSecret(salt, secret string) string {
	sum := sha256.Sum256([]byte(salt + secret))
	return hex.EncodeToString(sum[:])
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
