package obbtile

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/swdee/go-obbtile/postprocess"
)

// LoadLabels reads the class names the Model was trained with from the given
// text file.  It should contain one label per line ordered by class ID, lines
// starting with # are ignored.
func LoadLabels(file string) ([]string, error) {

	// open the file
	f, err := os.Open(file)

	if err != nil {
		return nil, fmt.Errorf("error opening file: %w", err)
	}

	defer f.Close()

	scanner := bufio.NewScanner(f)

	var labels []string

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if strings.HasPrefix(line, "#") {
			continue
		}

		labels = append(labels, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading file: %w", err)
	}

	// drop trailing blank lines left by editors
	for len(labels) > 0 && labels[len(labels)-1] == "" {
		labels = labels[:len(labels)-1]
	}

	return labels, nil
}

// LoadClassTable reads a labels file into a ClassTable, falling back to the
// DOTA v1 class names when file is empty
func LoadClassTable(file string) (postprocess.ClassTable, error) {

	if file == "" {
		return postprocess.NewClassTable(postprocess.DOTAv1Classes), nil
	}

	labels, err := LoadLabels(file)

	if err != nil {
		return nil, err
	}

	return postprocess.NewClassTable(labels), nil
}
