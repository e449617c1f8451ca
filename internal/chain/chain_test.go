package chain

import "testing"

func TestGetSupportedChains(t *testing.T) {
	for _, id := range []uint64{1, 8453} {
		p, ok := Get(id)
		if !ok {
			t.Fatalf("expected chain %d to be supported", id)
		}
		if p.ChainID != id {
			t.Fatalf("expected ChainID %d, got %d", id, p.ChainID)
		}
		if p.PollingInterval <= 0 {
			t.Fatalf("expected positive polling interval for chain %d", id)
		}
	}
}

func TestIsSupportedRejectsUnknownChain(t *testing.T) {
	if IsSupported(999999) {
		t.Fatal("expected unknown chain to be unsupported")
	}
}

func TestAllReturnsEverySupportedChain(t *testing.T) {
	all := All()
	if len(all) != 2 {
		t.Fatalf("expected 2 registered chains, got %d", len(all))
	}
}
