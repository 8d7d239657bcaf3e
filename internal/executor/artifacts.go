package executor

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// pageRe matches page-numbered artifact stems: page_3 or drawing_page_3.
var pageRe = regexp.MustCompile(`(?:^|_)page_(\d+)$`)

type candidate struct {
	path    string
	modTime time.Time
	page    int
	paged   bool
}

type fileStamp struct {
	modTime time.Time
	size    int64
}

// outputScan locates the artifacts of one run. It is created before the
// script starts; only files that appear or change afterwards count.
type outputScan struct {
	dirs []string
	exts map[string]bool
	// non-empty when the script shares its directory with other scripts;
	// artifacts must then be named after it
	stem   string
	before map[string]fileStamp
}

// newOutputScan snapshots the output directories of the script at abs.
func newOutputScan(abs string, outputDirs []string, exts map[string]bool) *outputScan {
	dir := filepath.Dir(abs)
	s := &outputScan{exts: exts, before: make(map[string]fileStamp)}
	seen := make(map[string]bool)
	for _, od := range outputDirs {
		d := filepath.Clean(filepath.Join(dir, od))
		if seen[d] {
			continue
		}
		seen[d] = true
		s.dirs = append(s.dirs, d)
		s.stat(d, func(path string, st fileStamp) { s.before[path] = st })
	}
	if siblingScripts(abs) {
		s.stem = strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))
	}
	return s
}

// siblingScripts reports whether abs's directory holds other files with the
// same extension.
func siblingScripts(abs string) bool {
	ext := strings.ToLower(filepath.Ext(abs))
	des, err := os.ReadDir(filepath.Dir(abs))
	if err != nil {
		return false
	}
	for _, de := range des {
		if de.IsDir() || de.Name() == filepath.Base(abs) {
			continue
		}
		if strings.ToLower(filepath.Ext(de.Name())) == ext {
			return true
		}
	}
	return false
}

func (s *outputScan) stat(dir string, fn func(string, fileStamp)) {
	des, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, de := range des {
		if de.IsDir() || !s.exts[strings.ToLower(filepath.Ext(de.Name()))] {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		fn(filepath.Join(dir, de.Name()), fileStamp{modTime: info.ModTime(), size: info.Size()})
	}
}

// collect returns the artifacts of the first output directory holding any
// new or changed file. Page-numbered files win and are returned in page
// order; otherwise the single most recently modified file is returned.
func (s *outputScan) collect() []string {
	for _, d := range s.dirs {
		var cands []candidate
		s.stat(d, func(path string, st fileStamp) {
			if old, ok := s.before[path]; ok && old.modTime.Equal(st.modTime) && old.size == st.size {
				return
			}
			c, ok := s.candidate(path, st)
			if ok {
				cands = append(cands, c)
			}
		})
		if len(cands) > 0 {
			return pick(cands)
		}
	}
	return nil
}

func (s *outputScan) candidate(path string, st fileStamp) (candidate, bool) {
	name := filepath.Base(path)
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	c := candidate{path: path, modTime: st.modTime}
	m := pageRe.FindStringSubmatch(stem)
	if m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			c.page, c.paged = n, true
		}
	}
	if s.stem == "" {
		return c, true
	}
	if stem == s.stem {
		return c, true
	}
	if c.paged && stem == s.stem+"_page_"+m[1] {
		return c, true
	}
	return candidate{}, false
}

func pick(cands []candidate) []string {
	var pages []candidate
	for _, c := range cands {
		if c.paged {
			pages = append(pages, c)
		}
	}
	if len(pages) > 0 {
		sort.SliceStable(pages, func(i, j int) bool { return pages[i].page < pages[j].page })
		out := make([]string, len(pages))
		for i, p := range pages {
			out[i] = p.path
		}
		return out
	}
	newest := cands[0]
	for _, c := range cands[1:] {
		if c.modTime.After(newest.modTime) || (c.modTime.Equal(newest.modTime) && c.path > newest.path) {
			newest = c
		}
	}
	return []string{newest.path}
}
