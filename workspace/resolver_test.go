package workspace

import "testing"

func TestResolveLongestPrefixWins(t *testing.T) {
	r := NewResolver(map[string]string{
		"/home/dev":              "ch-general",
		"/home/dev/projects/api": "ch-api",
	})

	tests := []struct {
		path    string
		want    string
		wantOK  bool
	}{
		{"/home/dev/projects/api/server.go", "ch-api", true},
		{"/home/dev/projects/api", "ch-api", true},
		{"/home/dev/notes.md", "ch-general", true},
		{"/home/dev/projects", "ch-general", true},
		{"/var/log/syslog", "", false},
	}
	for _, tt := range tests {
		got, ok := r.Resolve(tt.path)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("Resolve(%q) = %q, %v; want %q, %v", tt.path, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestResolveNormalizesTrailingSeparators(t *testing.T) {
	r := NewResolver(map[string]string{"/srv/app/": "ch-app"})

	got, ok := r.Resolve("/srv/app")
	if !ok || got != "ch-app" {
		t.Fatalf("Resolve(/srv/app) = %q, %v; want ch-app, true", got, ok)
	}
	got, ok = r.Resolve("/srv/app/src/")
	if !ok || got != "ch-app" {
		t.Fatalf("Resolve(/srv/app/src/) = %q, %v; want ch-app, true", got, ok)
	}
}

func TestResolveSegmentBoundaries(t *testing.T) {
	r := NewResolver(map[string]string{"/srv/app": "ch-app"})

	if _, ok := r.Resolve("/srv/appdata/file"); ok {
		t.Fatal("sibling directory sharing a name prefix must not match")
	}
}

func TestResolveRootSeparatorCatchAll(t *testing.T) {
	r := NewResolver(map[string]string{
		"/":         "ch-root",
		"/home/dev": "ch-dev",
	})

	got, ok := r.Resolve("/var/log/syslog")
	if !ok || got != "ch-root" {
		t.Fatalf("Resolve(/var/log/syslog) = %q, %v; want ch-root, true", got, ok)
	}
	got, ok = r.Resolve("/home/dev/main.go")
	if !ok || got != "ch-dev" {
		t.Fatalf("Resolve(/home/dev/main.go) = %q, %v; want ch-dev, true", got, ok)
	}
	got, ok = r.Resolve("/")
	if !ok || got != "ch-root" {
		t.Fatalf("Resolve(/) = %q, %v; want ch-root, true", got, ok)
	}
}

func TestRegisterReplacesBinding(t *testing.T) {
	r := NewResolver(nil)
	r.Register("/work", "ch-old")
	r.Register("/work", "ch-new")

	got, ok := r.Resolve("/work/x")
	if !ok || got != "ch-new" {
		t.Fatalf("Resolve(/work/x) = %q, %v; want ch-new, true", got, ok)
	}
}
