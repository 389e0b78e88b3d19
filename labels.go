package rastervision

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// BackgroundName is the class name reserved for label id 0
const BackgroundName = "background"

// LoadClassNames reads the class names the model was trained on from the
// given text file, one name per line.  Label id 0 is reserved for the
// background class, so the returned slice has the background name
// prepended and the first file line maps to label id 1.
func LoadClassNames(file string) ([]string, error) {

	f, err := os.Open(file)

	if err != nil {
		return nil, fmt.Errorf("error opening file: %w", err)
	}

	defer f.Close()

	names := []string{BackgroundName}

	scanner := bufio.NewScanner(f)

	for scanner.Scan() {

		line := strings.TrimSpace(scanner.Text())

		if line == "" {
			continue
		}

		names = append(names, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading file: %w", err)
	}

	return names, nil
}
