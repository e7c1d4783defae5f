package agents

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

type fakeProvisioner struct {
	mu    sync.Mutex
	specs []ProvisionSpec
	id    string
	err   error
}

func (f *fakeProvisioner) Provision(_ context.Context, spec ProvisionSpec) (string, error) {
	f.mu.Lock()
	f.specs = append(f.specs, spec)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.id, nil
}

func TestCreateAgent_EphemeralDefaults(t *testing.T) {
	reg := NewRegistry(nil, nil, "gpt-4o")

	agent, err := reg.CreateAgent(context.Background(), CreateParams{
		Name:         "Price Objection",
		Instructions: "You doubt the product is worth the price.",
	})
	if err != nil {
		t.Fatalf("CreateAgent() error = %v", err)
	}

	if agent.Kind != KindEphemeral {
		t.Fatalf("Kind = %q, want %q", agent.Kind, KindEphemeral)
	}
	if !strings.HasPrefix(agent.ID, "local-agent-price-objection-") {
		t.Fatalf("ID = %q, want local-agent-price-objection-<hex> prefix", agent.ID)
	}
	if agent.Model != "gpt-4o" {
		t.Fatalf("Model = %q, want gpt-4o", agent.Model)
	}
	if agent.Temperature != 0.7 {
		t.Fatalf("Temperature = %v, want 0.7", agent.Temperature)
	}
	if agent.MaxResponseTokens != 2000 {
		t.Fatalf("MaxResponseTokens = %d, want 2000", agent.MaxResponseTokens)
	}
	if agent.CreatedAt.IsZero() {
		t.Fatalf("CreatedAt is zero")
	}

	got, err := reg.GetAgent(agent.ID)
	if err != nil {
		t.Fatalf("GetAgent() error = %v", err)
	}
	if got.ID != agent.ID {
		t.Fatalf("GetAgent returned id %q, want %q", got.ID, agent.ID)
	}
}

func TestCreateAgent_IDsAreUnique(t *testing.T) {
	reg := NewRegistry(nil, nil, "gpt-4o")

	a, err := reg.CreateAgent(context.Background(), CreateParams{Name: "repeat"})
	if err != nil {
		t.Fatalf("first CreateAgent() error = %v", err)
	}
	b, err := reg.CreateAgent(context.Background(), CreateParams{Name: "repeat"})
	if err != nil {
		t.Fatalf("second CreateAgent() error = %v", err)
	}
	if a.ID == b.ID {
		t.Fatalf("two agents share id %q", a.ID)
	}
}

func TestCreateAgent_PersistentUsesProvisioner(t *testing.T) {
	prov := &fakeProvisioner{id: "asst_abc123"}
	reg := NewRegistry(nil, prov, "gpt-4o")

	explicit := 1.2
	agent, err := reg.CreateAgent(context.Background(), CreateParams{
		Name:         "skeptical buyer",
		Instructions: "You already have a supplier and see no reason to switch.",
		Temperature:  &explicit,
		Kind:         KindPersistent,
	})
	if err != nil {
		t.Fatalf("CreateAgent() error = %v", err)
	}
	if agent.ID != "asst_abc123" {
		t.Fatalf("ID = %q, want the provisioner-assigned id", agent.ID)
	}
	if agent.Kind != KindPersistent {
		t.Fatalf("Kind = %q, want %q", agent.Kind, KindPersistent)
	}

	if len(prov.specs) != 1 {
		t.Fatalf("provisioner called %d times, want 1", len(prov.specs))
	}
	spec := prov.specs[0]
	if !strings.HasPrefix(spec.Name, "agent-skeptical-buyer-") {
		t.Fatalf("provisioned name = %q, want agent-skeptical-buyer-<hex> prefix", spec.Name)
	}
	if spec.Temperature != 1.2 {
		t.Fatalf("provisioned temperature = %v, want 1.2", spec.Temperature)
	}
	if !strings.HasPrefix(spec.Instructions, "CRITICAL INTERACTION GUIDELINES") {
		t.Fatalf("provisioned instructions do not start with the baseline:\n%s", spec.Instructions)
	}
	if !strings.Contains(spec.Instructions, "no reason to switch") {
		t.Fatalf("provisioned instructions lost the persona:\n%s", spec.Instructions)
	}

	got, err := reg.GetAgent("asst_abc123")
	if err != nil {
		t.Fatalf("GetAgent() error = %v", err)
	}
	if got.Name != "skeptical buyer" {
		t.Fatalf("Name = %q, want %q", got.Name, "skeptical buyer")
	}
}

func TestCreateAgent_ProvisionFailureLeavesNoRecord(t *testing.T) {
	prov := &fakeProvisioner{id: "asst_lost", err: errors.New("agent service returned 503")}
	reg := NewRegistry(nil, prov, "gpt-4o")

	_, err := reg.CreateAgent(context.Background(), CreateParams{
		Name: "unlucky",
		Kind: KindPersistent,
	})
	if !errors.Is(err, ErrCreationFailed) {
		t.Fatalf("error = %v, want ErrCreationFailed", err)
	}

	if _, err := reg.GetAgent("asst_lost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetAgent after failed provision = %v, want ErrNotFound", err)
	}
}

func TestCreateAgent_PersistentWithoutProvisionerFails(t *testing.T) {
	reg := NewRegistry(nil, nil, "gpt-4o")

	_, err := reg.CreateAgent(context.Background(), CreateParams{Name: "x", Kind: KindPersistent})
	if !errors.Is(err, ErrCreationFailed) {
		t.Fatalf("error = %v, want ErrCreationFailed", err)
	}
}

func TestCreateAgent_Validation(t *testing.T) {
	reg := NewRegistry(nil, nil, "gpt-4o")
	zero := 0
	hot := 2.5

	cases := []struct {
		name   string
		params CreateParams
	}{
		{"empty name", CreateParams{Name: "   "}},
		{"unknown kind", CreateParams{Name: "x", Kind: Kind("managed")}},
		{"temperature out of range", CreateParams{Name: "x", Temperature: &hot}},
		{"zero max tokens", CreateParams{Name: "x", MaxResponseTokens: &zero}},
	}
	for _, tc := range cases {
		if _, err := reg.CreateAgent(context.Background(), tc.params); !errors.Is(err, ErrInvalidParams) {
			t.Fatalf("%s: error = %v, want ErrInvalidParams", tc.name, err)
		}
	}
}

func TestGetAgent_NotFound(t *testing.T) {
	reg := NewRegistry(nil, nil, "gpt-4o")
	if _, err := reg.GetAgent("local-agent-missing-00000000"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestEffectiveInstructions_PrependsBaseline(t *testing.T) {
	a := Agent{Instructions: "You run a small bakery."}
	full := a.EffectiveInstructions()
	if !strings.HasPrefix(full, "CRITICAL INTERACTION GUIDELINES") {
		t.Fatalf("instructions do not start with the baseline:\n%s", full)
	}
	if !strings.HasSuffix(full, "You run a small bakery.") {
		t.Fatalf("persona not appended after baseline:\n%s", full)
	}

	empty := Agent{}
	if got := empty.EffectiveInstructions(); got != baselineInstructions {
		t.Fatalf("empty persona produced %q", got)
	}
}

func TestRegistry_ConcurrentCreateAndGet(t *testing.T) {
	reg := NewRegistry(nil, nil, "gpt-4o")

	const n = 32
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			agent, err := reg.CreateAgent(context.Background(), CreateParams{Name: "concurrent"})
			if err != nil {
				t.Errorf("CreateAgent() error = %v", err)
				return
			}
			ids <- agent.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
		if _, err := reg.GetAgent(id); err != nil {
			t.Fatalf("GetAgent(%q) error = %v", id, err)
		}
	}
	if len(seen) != n {
		t.Fatalf("registered %d agents, want %d", len(seen), n)
	}
}
