package queue

import (
	"testing"

	"github.com/coreagent/enginectl/pkg/models"
)

func TestThreadQueue_DefaultModeIsSteer(t *testing.T) {
	q := NewThreadQueue()
	if q.Mode() != models.QueueModeSteer {
		t.Errorf("Mode() = %v, want %v", q.Mode(), models.QueueModeSteer)
	}
}

func TestThreadQueue_Enqueue_RoutesByMode(t *testing.T) {
	tests := []struct {
		name       string
		mode       models.QueueMode
		wantTarget models.QueueTarget
		wantDouble bool
	}{
		{"steer mode routes to steer", models.QueueModeSteer, models.QueueSteer, false},
		{"followup mode routes to followup", models.QueueModeFollowup, models.QueueFollowup, false},
		{"collect mode routes to collect", models.QueueModeCollect, models.QueueCollect, false},
		{"interrupt mode routes to interrupt", models.QueueModeInterrupt, models.QueueInterrupt, false},
		{"steer_backlog mode routes to both steer and backlog", models.QueueModeSteerBacklog, models.QueueSteer, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := NewThreadQueue()
			q.SetMode(tt.mode)
			q.Enqueue("hello", nil)

			depths := q.Depths()
			if depths[tt.wantTarget] != 1 {
				t.Errorf("depth of %v = %d, want 1", tt.wantTarget, depths[tt.wantTarget])
			}
			if tt.wantDouble && depths[models.QueueBacklog] != 1 {
				t.Errorf("steer_backlog should also populate backlog, depth = %d", depths[models.QueueBacklog])
			}
		})
	}
}

func TestThreadQueue_Enqueue_SequenceIsMonotonic(t *testing.T) {
	q := NewThreadQueue()
	first := q.Enqueue("a", nil)
	second := q.Enqueue("b", nil)
	if second != first+1 {
		t.Errorf("sequence indices = %d, %d; want strictly consecutive", first, second)
	}
}

func TestThreadQueue_DrainForInjection_SteerAtSafePoint(t *testing.T) {
	q := NewThreadQueue()
	q.Enqueue("first", nil)
	q.Enqueue("second", nil)

	drained := q.DrainForInjection(DrainSafePoint)
	if len(drained) != 2 {
		t.Fatalf("len(drained) = %d, want 2", len(drained))
	}
	if drained[0].Content != "first" || drained[1].Content != "second" {
		t.Errorf("drain order = [%q, %q], want FIFO [first, second]", drained[0].Content, drained[1].Content)
	}
	if q.Depths()[models.QueueSteer] != 0 {
		t.Error("steer queue should be empty after drain")
	}
}

func TestThreadQueue_DrainForInjection_FollowupAndCollectAtDraining(t *testing.T) {
	q := NewThreadQueue()
	q.SetMode(models.QueueModeFollowup)
	q.Enqueue("follow", nil)
	q.SetMode(models.QueueModeCollect)
	q.Enqueue("collected", nil)

	drained := q.DrainForInjection(DrainEnteringDraining)
	if len(drained) != 2 {
		t.Fatalf("len(drained) = %d, want 2", len(drained))
	}
}

func TestThreadQueue_DrainInterrupt_DoesNotRequireSafePoint(t *testing.T) {
	q := NewThreadQueue()
	q.SetMode(models.QueueModeInterrupt)
	q.Enqueue("stop now", nil)

	if !q.HasInterrupt() {
		t.Fatal("expected HasInterrupt() to report pending interrupt")
	}
	drained := q.DrainInterrupt()
	if len(drained) != 1 || drained[0].Content != "stop now" {
		t.Errorf("DrainInterrupt() = %+v, want one entry 'stop now'", drained)
	}
	if q.HasInterrupt() {
		t.Error("interrupt queue should be empty after drain")
	}
}

func TestThreadQueue_Backlog_OnlyDrainsOnExplicitRequest(t *testing.T) {
	q := NewThreadQueue()
	q.SetMode(models.QueueModeSteerBacklog)
	q.Enqueue("audited", nil)

	// Safe-point and draining-entry drains must not touch backlog.
	q.DrainForInjection(DrainSafePoint)
	q.DrainForInjection(DrainEnteringDraining)
	if q.Depths()[models.QueueBacklog] != 1 {
		t.Fatalf("backlog should survive safe-point/draining drains, depth = %d", q.Depths()[models.QueueBacklog])
	}

	drained := q.DrainBacklog()
	if len(drained) != 1 {
		t.Errorf("DrainBacklog() = %+v, want one entry", drained)
	}
}

func TestManager_ForThread_IsolatesQueuesPerThread(t *testing.T) {
	m := NewManager()
	m.Enqueue("thread-a", "msg-a", nil)
	m.Enqueue("thread-b", "msg-b", nil)

	drainedA, err := m.DrainForInjection("thread-a", DrainSafePoint)
	if err != nil {
		t.Fatalf("DrainForInjection() error = %v", err)
	}
	if len(drainedA) != 1 || drainedA[0].Content != "msg-a" {
		t.Errorf("thread-a drain = %+v, want one entry msg-a", drainedA)
	}

	drainedB, err := m.DrainForInjection("thread-b", DrainSafePoint)
	if err != nil {
		t.Fatalf("DrainForInjection() error = %v", err)
	}
	if len(drainedB) != 1 || drainedB[0].Content != "msg-b" {
		t.Errorf("thread-b drain = %+v, want one entry msg-b", drainedB)
	}
}

func TestManager_DrainForInjection_UnknownThreadErrors(t *testing.T) {
	m := NewManager()
	if _, err := m.DrainForInjection("ghost", DrainSafePoint); err == nil {
		t.Error("expected error draining an unknown thread")
	}
}
