package procmon

import "testing"

func TestChangedDetectsAnyFieldDifference(t *testing.T) {
	base := Info{Pid: 100, Name: "bash", Cmdline: "bash -l", Cwd: "/home/user"}

	cases := []struct {
		name string
		next Info
		want bool
	}{
		{"identical", base, false},
		{"pid differs", Info{Pid: 101, Name: "bash", Cmdline: "bash -l", Cwd: "/home/user"}, true},
		{"name differs", Info{Pid: 100, Name: "vim", Cmdline: "bash -l", Cwd: "/home/user"}, true},
		{"cmdline differs", Info{Pid: 100, Name: "bash", Cmdline: "bash -c ls", Cwd: "/home/user"}, true},
		{"cwd differs", Info{Pid: 100, Name: "bash", Cmdline: "bash -l", Cwd: "/tmp"}, true},
		{"all zero vs base", Info{}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := changed(base, tc.next); got != tc.want {
				t.Errorf("changed(%+v, %+v) = %v, want %v", base, tc.next, got, tc.want)
			}
		})
	}
}

func TestChangedZeroValueIsStable(t *testing.T) {
	if changed(Info{}, Info{}) {
		t.Error("changed(zero, zero) should be false")
	}
}
