package settings_test

import (
	"context"
	"testing"

	"github.com/matteocacciola/cheshirecat-core/internal/settings"
	"github.com/matteocacciola/cheshirecat-core/pkg/models"
)

func newTestStore(t *testing.T) settings.Store {
	t.Helper()
	s := settings.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return s
}

func testConfig(tenantID string) *models.TenantConfig {
	return &models.TenantConfig{
		TenantID: tenantID,
		Selections: map[models.ComponentKind]models.FactorySelection{
			models.KindLLM:            {Name: "echo"},
			models.KindVectorDatabase: {Name: "embedded"},
		},
		EnabledPlugins: []string{"base"},
	}
}

func TestPutAndGetTenant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v, err := s.PutTenant(ctx, testConfig("alice"))
	if err != nil {
		t.Fatalf("PutTenant() error = %v", err)
	}
	if v != 1 {
		t.Errorf("PutTenant() version = %d, want 1", v)
	}

	got, err := s.GetTenant(ctx, "alice")
	if err != nil {
		t.Fatalf("GetTenant() error = %v", err)
	}
	if got.Selections[models.KindLLM].Name != "echo" {
		t.Errorf("GetTenant().Selections[llm] = %q, want %q", got.Selections[models.KindLLM].Name, "echo")
	}
	if got.Version != 1 {
		t.Errorf("GetTenant().Version = %d, want 1", got.Version)
	}
}

func TestPutTenant_BumpsVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cfg := testConfig("bob")
	for want := int64(1); want <= 3; want++ {
		v, err := s.PutTenant(ctx, cfg)
		if err != nil {
			t.Fatalf("PutTenant() error = %v", err)
		}
		if v != want {
			t.Errorf("PutTenant() version = %d, want %d", v, want)
		}
	}
}

func TestGetTenant_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetTenant(context.Background(), "ghost")
	if !settings.IsNotFound(err) {
		t.Fatalf("GetTenant() error = %v, want ErrNotFound", err)
	}
}

func TestDeleteTenant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.PutTenant(ctx, testConfig("carol"))
	if err := s.DeleteTenant(ctx, "carol"); err != nil {
		t.Fatalf("DeleteTenant() error = %v", err)
	}
	if _, err := s.GetTenant(ctx, "carol"); !settings.IsNotFound(err) {
		t.Errorf("GetTenant() after delete error = %v, want ErrNotFound", err)
	}
	// deleting again is a no-op
	if err := s.DeleteTenant(ctx, "carol"); err != nil {
		t.Errorf("DeleteTenant() second call error = %v", err)
	}
}

func TestListTenants(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"t2", "t1", "t3"} {
		s.PutTenant(ctx, testConfig(id))
	}

	ids, err := s.ListTenants(ctx)
	if err != nil {
		t.Fatalf("ListTenants() error = %v", err)
	}
	want := []string{"t1", "t2", "t3"}
	if len(ids) != len(want) {
		t.Fatalf("ListTenants() = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ListTenants()[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
}

func TestGetTenant_ReturnsCopy(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.PutTenant(ctx, testConfig("dave"))
	first, _ := s.GetTenant(ctx, "dave")
	first.Selections[models.KindLLM] = models.FactorySelection{Name: "mutated"}

	second, _ := s.GetTenant(ctx, "dave")
	if second.Selections[models.KindLLM].Name != "echo" {
		t.Errorf("store state mutated through returned config")
	}
}
