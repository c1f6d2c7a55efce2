package controller

import "testing"

func TestPauseResume(t *testing.T) {
	c := New()
	if c.IsPaused() {
		t.Fatal("new Controller should not start paused")
	}

	c.Pause()
	if !c.IsPaused() {
		t.Fatal("expected paused after Pause")
	}

	c.Resume()
	if c.IsPaused() {
		t.Fatal("expected not paused after Resume")
	}
}

func TestCloneSharesState(t *testing.T) {
	c := New()
	clone := c.Clone()

	clone.Pause()
	if !c.IsPaused() {
		t.Fatal("expected original to observe pause made through clone")
	}

	c.Resume()
	if clone.IsPaused() {
		t.Fatal("expected clone to observe resume made through original")
	}
}
