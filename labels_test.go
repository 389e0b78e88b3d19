package rastervision

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadClassNames(t *testing.T) {

	file := filepath.Join(t.TempDir(), "classes.txt")

	content := "building\nvehicle\n\n  tree  \n"

	if err := os.WriteFile(file, []byte(content), 0644); err != nil {
		t.Fatalf("writing class file: %v", err)
	}

	names, err := LoadClassNames(file)

	if err != nil {
		t.Fatalf("load: %v", err)
	}

	expected := []string{BackgroundName, "building", "vehicle", "tree"}

	if len(names) != len(expected) {
		t.Fatalf("got %d names, expected %d: %v", len(names), len(expected), names)
	}

	for i, name := range expected {
		if names[i] != name {
			t.Errorf("names[%d] = %q, expected %q", i, names[i], name)
		}
	}
}

func TestLoadClassNamesMissingFile(t *testing.T) {

	if _, err := LoadClassNames("no-such-file.txt"); err == nil {
		t.Error("expected error for missing file")
	}
}
