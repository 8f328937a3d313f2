package epub

import (
	"fmt"
	"path"
	"strings"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"ebr/archive"
)

const (
	containerPath   = "META-INF/container.xml"
	packageMimeType = "application/oebps-package+xml"
)

// RootfilePath locates the package manifest inside the archive. It parses
// META-INF/container.xml first and falls back to scanning for any .opf entry
// when the container is missing or unusable, since some authoring tools do
// not bother writing one.
func RootfilePath(idx *archive.Index, log *zap.Logger) (string, error) {
	if e, ok := idx.Lookup(containerPath); ok {
		if p, err := rootfileFromContainer(e); err == nil {
			return p, nil
		} else {
			log.Warn("Unusable container.xml, scanning for package manifest", zap.Error(err))
		}
	}

	var found string
	_ = idx.Walk("", func(e *archive.Entry) error {
		if strings.HasSuffix(strings.ToLower(e.Path), ".opf") {
			found = e.Path
			return errStopWalk
		}
		return nil
	})
	if found == "" {
		return "", fmt.Errorf("no package manifest found in archive")
	}
	return found, nil
}

var errStopWalk = fmt.Errorf("stop walk")

func rootfileFromContainer(e *archive.Entry) (string, error) {
	text, err := e.Text()
	if err != nil {
		return "", err
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromString(text); err != nil {
		return "", fmt.Errorf("unable to parse container.xml: %w", err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "container" {
		return "", fmt.Errorf("container.xml has unexpected root")
	}

	var fallback string
	for _, rf := range root.FindElements("//rootfile") {
		full := strings.TrimSpace(rf.SelectAttrValue("full-path", ""))
		if full == "" {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(rf.SelectAttrValue("media-type", "")), packageMimeType) {
			return full, nil
		}
		if fallback == "" {
			fallback = full
		}
	}
	if fallback == "" {
		return "", fmt.Errorf("container.xml has no usable rootfile")
	}
	return fallback, nil
}

// BaseDir derives the archive directory containing the package manifest,
// with a trailing slash when not at archive root.
func BaseDir(rootfile string) string {
	dir := path.Dir(rootfile)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir + "/"
}
