package imagestate

import "testing"

func TestEscalationOrder(t *testing.T) {
	tr := NewTracker()
	link := "https://example.com/a.jpg"

	if got := tr.State(link); got != Direct {
		t.Fatalf("unseen link should be Direct, got %v", got)
	}

	if got := tr.Fail(link); got != ProxyRetry {
		t.Errorf("first failure should escalate to ProxyRetry, got %v", got)
	}
	if got := tr.Fail(link); got != Failed {
		t.Errorf("second failure should escalate to Failed, got %v", got)
	}
}

func TestFailedIsTerminal(t *testing.T) {
	tr := NewTracker()
	link := "https://example.com/b.jpg"

	tr.Fail(link)
	tr.Fail(link)

	for range 3 {
		if got := tr.Fail(link); got != Failed {
			t.Fatalf("Failed must be terminal, got %v", got)
		}
	}
}

func TestLinksAreIndependent(t *testing.T) {
	tr := NewTracker()

	tr.Fail("https://example.com/a.jpg")

	if got := tr.State("https://example.com/b.jpg"); got != Direct {
		t.Errorf("unrelated link must stay Direct, got %v", got)
	}
	if tr.Len() != 1 {
		t.Errorf("expected 1 tracked link, got %d", tr.Len())
	}
}

func TestStateStrings(t *testing.T) {
	cases := map[State]string{
		Direct:     "direct",
		ProxyRetry: "proxy",
		Failed:     "failed",
		State(99):  "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
