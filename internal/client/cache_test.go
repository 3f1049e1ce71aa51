package client

import (
	"testing"
	"time"
)

func TestUpdateSessionsUpsertsAndTracksLastSeen(t *testing.T) {
	c := NewCache()
	now := time.Now()
	c.UpdateSessions([]SessionInfo{{ID: "a", ProjectID: "p1"}}, now)

	got := c.Sessions()
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("Sessions() = %v", got)
	}
}

func TestUpdateSessionsEvictsOnlyAfterStaleWindow(t *testing.T) {
	c := NewCache()
	t0 := time.Now()
	c.UpdateSessions([]SessionInfo{{ID: "a", ProjectID: "p1"}}, t0)

	// Missing from the next list but within the grace window: kept.
	c.UpdateSessions(nil, t0.Add(time.Minute))
	if len(c.Sessions()) != 1 {
		t.Fatal("session should survive within the 5 minute grace window")
	}

	// Still missing, now past the grace window: evicted.
	c.UpdateSessions(nil, t0.Add(6*time.Minute))
	if len(c.Sessions()) != 0 {
		t.Fatal("session should be evicted once stale past 5 minutes")
	}
}

func TestForProjectReturnsMostRecentlySeen(t *testing.T) {
	c := NewCache()
	t0 := time.Now()
	c.UpdateSessions([]SessionInfo{{ID: "old", ProjectID: "p1"}}, t0)
	c.UpdateSessions([]SessionInfo{{ID: "new", ProjectID: "p1"}}, t0.Add(time.Second))

	got, ok := c.ForProject("p1")
	if !ok || got.ID != "new" {
		t.Errorf("ForProject = %v, %v, want id=new", got, ok)
	}
}

func TestForProjectUnknownProjectNotFound(t *testing.T) {
	c := NewCache()
	if _, ok := c.ForProject("nope"); ok {
		t.Error("expected ok=false for unknown project")
	}
}

func TestAgentConnectedDefaultsFalse(t *testing.T) {
	c := NewCache()
	if c.AgentConnected() {
		t.Error("AgentConnected should default to false")
	}
	c.SetAgentConnected(true)
	if !c.AgentConnected() {
		t.Error("AgentConnected should be true after SetAgentConnected(true)")
	}
}
