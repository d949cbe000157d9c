package relay

import "testing"

func TestResolveWithinRoot(t *testing.T) {
	cases := []struct {
		name string
		path string
		want string
		ok   bool
	}{
		{"relative joins under root", "src/main.go", "/workspace/src/main.go", true},
		{"absolute inside root", "/workspace/a.txt", "/workspace/a.txt", true},
		{"root itself", "/workspace", "/workspace", true},
		{"dot segments collapse inward", "src/../a.txt", "/workspace/a.txt", true},
		{"traversal out of root", "../../etc/passwd", "", false},
		{"absolute outside root", "/etc/passwd", "", false},
		{"sibling prefix does not count", "/workspace2/a.txt", "", false},
		{"empty path", "", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := resolveWithinRoot("/workspace", tc.path)
			if tc.ok {
				if err != nil {
					t.Fatalf("resolveWithinRoot(%q): %v", tc.path, err)
				}
				if got != tc.want {
					t.Errorf("resolved to %q, want %q", got, tc.want)
				}
				return
			}
			if err == nil {
				t.Fatalf("resolveWithinRoot(%q) = %q, want error", tc.path, got)
			}
			if !IsPathValidationError(err) {
				t.Errorf("err = %T, want PathValidationError", err)
			}
		})
	}
}

func TestResolveWithinRootTrailingSlashRoot(t *testing.T) {
	got, err := resolveWithinRoot("/workspace/", "a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if got != "/workspace/a.txt" {
		t.Errorf("resolved to %q", got)
	}
}
