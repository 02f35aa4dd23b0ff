package task

import "testing"

func TestTaskMenuOrderIsFixed(t *testing.T) {
	want := []string{
		"build", "make_iso", "make_netdev", "del_netdev",
		"run", "run_nographic", "run_with_gdb",
		"monitor", "gdb", "dump", "clean",
		"dist", "upload", "log", "test",
	}
	if len(Tasks) != len(want) {
		t.Fatalf("task menu has %d entries, want %d", len(Tasks), len(want))
	}
	for i, name := range want {
		if Tasks[i].Name != name {
			t.Errorf("Tasks[%d] = %q, want %q", i, Tasks[i].Name, name)
		}
	}
}

func TestLookupTask(t *testing.T) {
	if _, ok := lookupTask("build"); !ok {
		t.Error("build must be registered")
	}
	if _, ok := lookupTask("no_such_task"); ok {
		t.Error("unknown names must not resolve")
	}
}

func TestEveryTaskHasActionOrSpecialHandling(t *testing.T) {
	for _, tsk := range Tasks {
		if tsk.Run == nil && tsk.Name != "log" && tsk.Name != "test" {
			t.Errorf("task %s has no action", tsk.Name)
		}
		if tsk.Desc == "" {
			t.Errorf("task %s has no description", tsk.Name)
		}
	}
}
