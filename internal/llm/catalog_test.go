package llm

import "testing"

func TestGetModelInfoByID(t *testing.T) {
	info := GetModelInfo("claude-opus-4-5-20251101")
	if info == nil {
		t.Fatal("expected catalog entry")
	}
	if info.Provider != "anthropic" {
		t.Errorf("expected provider anthropic, got %s", info.Provider)
	}
}

func TestGetModelInfoByAlias(t *testing.T) {
	info := GetModelInfo("anthropic/claude-opus-4.5")
	if info == nil {
		t.Fatal("expected catalog entry for alias")
	}
	if info.ID != "claude-opus-4-5-20251101" {
		t.Errorf("alias resolved to wrong id: %s", info.ID)
	}
}

func TestGetModelInfoUnknown(t *testing.T) {
	if info := GetModelInfo("gpt-2"); info != nil {
		t.Errorf("expected nil for unknown model, got %+v", info)
	}
}

func TestDefaultModelInCatalog(t *testing.T) {
	if GetModelInfo(DefaultModelID) == nil {
		t.Fatalf("default model %q missing from catalog", DefaultModelID)
	}
}

func TestListModelsByProvider(t *testing.T) {
	openai := ListModels("openai")
	if len(openai) == 0 {
		t.Fatal("expected openai models")
	}
	for _, m := range openai {
		if m.Provider != "openai" {
			t.Errorf("filter leaked model %s from provider %s", m.ID, m.Provider)
		}
	}

	all := ListModels("")
	if len(all) != len(Models) {
		t.Errorf("expected %d models, got %d", len(Models), len(all))
	}
}
