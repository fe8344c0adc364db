package health

import (
	"sync"
	"testing"
)

func TestMonitor_UpdateAndGet(t *testing.T) {
	monitor := NewMonitor()
	monitor.Update("netlink", Status{Component: "wrong-name", Status: "healthy"})

	got, ok := monitor.Get("netlink")
	if !ok {
		t.Fatal("component should exist after update")
	}
	if got.Component != "netlink" {
		t.Errorf("expected component name to be overridden, got %s", got.Component)
	}
	if got.Timestamp.IsZero() {
		t.Error("Update should set timestamp if not provided")
	}

	monitor.Remove("netlink")
	if monitor.Count() != 0 {
		t.Errorf("expected 0 components, got %d", monitor.Count())
	}
}

func TestMonitor_AggregateHealth(t *testing.T) {
	monitor := NewMonitor()
	monitor.UpdateHealthy("websocket", "listening")
	monitor.UpdateHealthy("netlink", "reading")

	agg := monitor.AggregateHealth("sysmonitord")
	if !agg.IsHealthy() {
		t.Fatalf("expected healthy, got %s", agg.Status)
	}
	if len(agg.SubStatuses) != 2 || agg.SubStatuses[0].Component != "netlink" {
		t.Errorf("sub statuses should be sorted by name: %+v", agg.SubStatuses)
	}

	monitor.Update("nats", NewDegraded("nats", "reconnecting"))
	doc, ok := monitor.Report("sysmonitord")
	if !ok {
		t.Error("degraded system should still report as serving")
	}
	if doc.(Status).Status != "degraded" {
		t.Errorf("expected degraded, got %s", doc.(Status).Status)
	}

	monitor.UpdateUnhealthy("netlink", "socket closed")
	if _, ok := monitor.Report("sysmonitord"); ok {
		t.Error("unhealthy member should fail the report")
	}
}

func TestAggregate_Empty(t *testing.T) {
	if !Aggregate("sys", nil).IsHealthy() {
		t.Error("empty aggregate should be healthy")
	}
}

func TestMonitor_Concurrent(t *testing.T) {
	monitor := NewMonitor()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			monitor.UpdateHealthy("netlink", "ok")
		}()
		go func() {
			defer wg.Done()
			_ = monitor.AggregateHealth("sys")
		}()
	}
	wg.Wait()
	if monitor.Count() != 1 {
		t.Errorf("expected 1 component, got %d", monitor.Count())
	}
}
