package auth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/akolanti/kbAPI/internal/data/metaStore"
	"github.com/akolanti/kbAPI/internal/domain/kbModel"
)

func newService(t *testing.T) (Service, metaStore.MetadataStore) {
	t.Helper()
	meta := metaStore.InitInMemoryStore()
	return NewService(meta, ""), meta
}

func TestCreateAndResolveScopedKey(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	key, credential, err := svc.CreateKey(ctx, "ci key", kbModel.RoleScoped, "t1")
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}
	if !strings.HasPrefix(credential, key.Id+".") {
		t.Fatalf("credential %q not in <keyId>.<secret> form", credential)
	}
	if key.SecretHash == "" || key.Salt == "" {
		t.Fatal("secret not hashed")
	}
	if strings.Contains(key.SecretHash, strings.TrimPrefix(credential, key.Id+".")) {
		t.Fatal("plaintext secret stored")
	}

	scope, err := svc.Resolve(ctx, SchemeScoped, credential)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if scope.KeyId != key.Id || scope.TenantId != "t1" || scope.Role != kbModel.RoleScoped {
		t.Errorf("scope = %+v", scope)
	}
}

func TestResolveWrongSecret(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	key, _, err := svc.CreateKey(ctx, "k", kbModel.RoleScoped, "t1")
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}

	_, err = svc.Resolve(ctx, SchemeScoped, key.Id+".wrong-secret")
	if !errors.Is(err, kbModel.ErrKeyInactive) {
		t.Fatalf("err = %v; want ErrKeyInactive", err)
	}
}

func TestResolveSchemeMismatch(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, scopedCred, err := svc.CreateKey(ctx, "k", kbModel.RoleScoped, "t1")
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}

	// a valid scoped credential on the admin header must fail
	if _, err := svc.Resolve(ctx, SchemeAdmin, scopedCred); !errors.Is(err, kbModel.ErrScopeMismatch) {
		t.Fatalf("err = %v; want ErrScopeMismatch", err)
	}
}

func TestResolveInactiveKeyHasNoSideEffects(t *testing.T) {
	ctx := context.Background()
	svc, meta := newService(t)

	key, credential, err := svc.CreateKey(ctx, "k", kbModel.RoleScoped, "t1")
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}
	if err := svc.DeactivateKey(ctx, key.Id); err != nil {
		t.Fatalf("DeactivateKey: %v", err)
	}
	before, _ := meta.GetApiKey(ctx, key.Id)

	if _, err := svc.Resolve(ctx, SchemeScoped, credential); !errors.Is(err, kbModel.ErrKeyInactive) {
		t.Fatalf("err = %v; want ErrKeyInactive", err)
	}

	after, _ := meta.GetApiKey(ctx, key.Id)
	if after.LastUsedAt != nil {
		t.Error("failed resolve stamped last-used")
	}
	if after.IsActive != before.IsActive || after.SecretHash != before.SecretHash {
		t.Error("failed resolve mutated the key")
	}
}

func TestRecordUsageIsExplicit(t *testing.T) {
	ctx := context.Background()
	svc, meta := newService(t)

	key, credential, err := svc.CreateKey(ctx, "k", kbModel.RoleScoped, "t1")
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}

	if _, err := svc.Resolve(ctx, SchemeScoped, credential); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	got, _ := meta.GetApiKey(ctx, key.Id)
	if got.LastUsedAt != nil {
		t.Fatal("Resolve alone stamped last-used")
	}

	if err := svc.RecordUsage(ctx, key.Id); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	got, _ = meta.GetApiKey(ctx, key.Id)
	if got.LastUsedAt == nil {
		t.Fatal("RecordUsage did not stamp last-used")
	}
}

func TestBootstrapAdminKey(t *testing.T) {
	ctx := context.Background()
	meta := metaStore.InitInMemoryStore()
	svc := NewService(meta, "super-secret-bootstrap")

	scope, err := svc.Resolve(ctx, SchemeAdmin, "super-secret-bootstrap")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !scope.IsAdmin() {
		t.Errorf("bootstrap scope = %+v; want admin", scope)
	}

	// bootstrap secret never works on the scoped header
	if _, err := svc.Resolve(ctx, SchemeScoped, "super-secret-bootstrap"); err == nil {
		t.Error("bootstrap credential resolved as a scoped key")
	}
}

func TestScopeTenantAccess(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, adminCred, err := svc.CreateKey(ctx, "ops", kbModel.RoleAdmin, "")
	if err != nil {
		t.Fatalf("CreateKey admin: %v", err)
	}
	admin, err := svc.Resolve(ctx, SchemeAdmin, adminCred)
	if err != nil {
		t.Fatalf("Resolve admin: %v", err)
	}

	// admins manage knowledge bases across every tenant
	if !admin.CanAccessTenant("t1") || !admin.CanAccessTenant("t2") {
		t.Error("admin scope denied tenant access")
	}

	_, scopedCred, err := svc.CreateKey(ctx, "app", kbModel.RoleScoped, "t1")
	if err != nil {
		t.Fatalf("CreateKey scoped: %v", err)
	}
	scoped, err := svc.Resolve(ctx, SchemeScoped, scopedCred)
	if err != nil {
		t.Fatalf("Resolve scoped: %v", err)
	}
	if !scoped.CanAccessTenant("t1") {
		t.Error("scoped key denied its own tenant")
	}
	if scoped.CanAccessTenant("t2") {
		t.Error("scoped key crossed tenants")
	}
}

func TestCreateKeyValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	if _, _, err := svc.CreateKey(ctx, "k", kbModel.RoleScoped, ""); err == nil {
		t.Error("scoped key without tenant accepted")
	}
	if _, _, err := svc.CreateKey(ctx, "k", kbModel.RoleAdmin, "t1"); err == nil {
		t.Error("tenant-bound admin key accepted")
	}
	if _, _, err := svc.CreateKey(ctx, "k", kbModel.KeyRole("root"), ""); err == nil {
		t.Error("unknown role accepted")
	}
}

func TestCredentialsAreUnique(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, c1, err := svc.CreateKey(ctx, "a", kbModel.RoleScoped, "t1")
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}
	_, c2, err := svc.CreateKey(ctx, "b", kbModel.RoleScoped, "t1")
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}
	if c1 == c2 {
		t.Fatal("two keys share a credential")
	}
}
