package journal

import (
	"path/filepath"
	"strings"
	"testing"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	dir := t.TempDir()
	j, err := Open(filepath.Join(dir, "swaps.db"), filepath.Join(dir, "swaps.lock"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournalSaveGetList(t *testing.T) {
	j := openTestJournal(t)

	entry := Entry{
		ID:           "swap_test1",
		ChainID:      1,
		Venue:        "router",
		Vault:        "0x00000000000000000000000000000000000000AA",
		FromToken:    "ETH",
		ToToken:      "USDC",
		AmountIn:     "0.1",
		MinAmountOut: "346.5",
		Status:       "pending",
	}
	entry.Touch()
	if err := j.Save(entry); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := j.Get("swap_test1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Venue != "router" || got.ToToken != "USDC" {
		t.Fatalf("unexpected entry: %+v", got)
	}

	got.Status = "executed"
	got.TxHash = "0xabc"
	got.Touch()
	if err := j.Save(got); err != nil {
		t.Fatalf("Save update failed: %v", err)
	}
	executed, err := j.List("executed", 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(executed) != 1 || executed[0].TxHash != "0xabc" {
		t.Fatalf("unexpected list result: %+v", executed)
	}
}

func TestJournalByOrderUID(t *testing.T) {
	j := openTestJournal(t)
	uid := "0x" + strings.Repeat("ab", 56)

	entry := Entry{
		ID:       "swap_order1",
		ChainID:  100,
		Venue:    "auction",
		Status:   "open",
		OrderUID: uid,
	}
	entry.Touch()
	if err := j.Save(entry); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := j.ByOrderUID(uid)
	if err != nil {
		t.Fatalf("ByOrderUID failed: %v", err)
	}
	if got.ID != "swap_order1" {
		t.Fatalf("unexpected entry id %s", got.ID)
	}

	if _, err := j.ByOrderUID("0x" + strings.Repeat("cd", 56)); err == nil {
		t.Fatal("expected missing order error")
	}
}

func TestJournalGetMissing(t *testing.T) {
	j := openTestJournal(t)
	if _, err := j.Get("nope"); err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestJournalSaveRequiresID(t *testing.T) {
	j := openTestJournal(t)
	if err := j.Save(Entry{}); err == nil {
		t.Fatal("expected missing id error")
	}
}
