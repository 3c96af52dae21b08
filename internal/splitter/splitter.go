// Package splitter turns one gzip-compressed dump archive into one XML file
// per top-level article element.
package splitter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/pgzip"
	"go.uber.org/zap"

	"github.com/matsen/pmcrefs/internal/manifest"
)

const (
	archiveExt = ".gz"
	xmlExt     = ".xml"
	articleTag = "article"

	decodeBufferSize = 1 << 20
)

// ErrNotArchive is returned for files that are not gzip dump archives.
var ErrNotArchive = errors.New("not a .gz dump archive")

// Result describes one split archive.
type Result struct {
	Archive  string `json:"archive"`
	Dir      string `json:"dir"`
	Articles int    `json:"articles"`
	Skipped  bool   `json:"skipped,omitempty"` // Already recorded in the manifest
}

// Splitter writes the articles of dump archives under an articles directory,
// bucketed into Buckets subdirectories by article index.
type Splitter struct {
	ArticlesDir string
	Buckets     int
	Manifest    *manifest.Manifest // Optional
	Logger      *zap.Logger
}

// New creates a Splitter.
func New(articlesDir string, buckets int, m *manifest.Manifest, logger *zap.Logger) *Splitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Splitter{
		ArticlesDir: articlesDir,
		Buckets:     buckets,
		Manifest:    m,
		Logger:      logger,
	}
}

// ArchiveName returns the name an archive is recorded under in the manifest.
func ArchiveName(archivePath string) string {
	return filepath.Base(archivePath)
}

// DumpName returns the per-archive directory name: the archive name without
// its .xml.gz extension.
func DumpName(archivePath string) string {
	return strings.TrimSuffix(strings.TrimSuffix(ArchiveName(archivePath), archiveExt), xmlExt)
}

// ListArchives returns the .gz files in dir, sorted by name.
func ListArchives(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading dump directory: %w", err)
	}

	var archives []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), archiveExt) {
			continue
		}
		archives = append(archives, filepath.Join(dir, e.Name()))
	}
	sort.Strings(archives)
	return archives, nil
}

// Split decompresses archivePath, writes each top-level article to
// <ArticlesDir>/<dump>/<i % Buckets>/<uuid>.xml and records the archive in the
// manifest. On success the archive and its decompressed intermediate are
// removed. On failure only this archive's intermediate and output directory
// are removed; the archive is kept for a later retry.
func (s *Splitter) Split(ctx context.Context, archivePath string) (*Result, error) {
	if !strings.HasSuffix(archivePath, archiveExt) {
		return nil, fmt.Errorf("%w: %s", ErrNotArchive, archivePath)
	}
	if s.Buckets < 1 {
		return nil, fmt.Errorf("bucket count must be positive, got %d", s.Buckets)
	}

	name := ArchiveName(archivePath)
	outDir := filepath.Join(s.ArticlesDir, DumpName(archivePath))
	result := &Result{Archive: name, Dir: outDir}

	if s.Manifest != nil && s.Manifest.Contains(name) {
		// A crash between recording and removal can leave the archive behind.
		if err := os.Remove(archivePath); err != nil && !os.IsNotExist(err) {
			s.Logger.Warn("removing already split archive", zap.String("archive", name), zap.Error(err))
		}
		result.Skipped = true
		return result, nil
	}

	intermediate := strings.TrimSuffix(archivePath, archiveExt)

	n, err := s.split(ctx, archivePath, intermediate, outDir)
	if err != nil {
		// Only this archive's files are removed. Other archives in the dump
		// directory may be mid-split in sibling workers.
		cleanupErr := errors.Join(removeIfExists(intermediate), os.RemoveAll(outDir))
		if cleanupErr != nil {
			s.Logger.Warn("cleaning up failed split", zap.String("archive", name), zap.Error(cleanupErr))
		}
		return nil, fmt.Errorf("splitting %s: %w", name, err)
	}
	result.Articles = n

	if s.Manifest != nil {
		if err := s.Manifest.Add(name); err != nil {
			return nil, fmt.Errorf("recording %s: %w", name, err)
		}
	}
	if err := errors.Join(removeIfExists(intermediate), removeIfExists(archivePath)); err != nil {
		s.Logger.Warn("removing split archive", zap.String("archive", name), zap.Error(err))
	}

	s.Logger.Info("split archive",
		zap.String("archive", name), zap.Int("articles", n), zap.String("dir", outDir))
	return result, nil
}

func (s *Splitter) split(ctx context.Context, archivePath, intermediate, outDir string) (int, error) {
	if err := decompress(archivePath, intermediate); err != nil {
		return 0, err
	}

	// Leftovers of an interrupted run would otherwise be extracted twice.
	if err := os.RemoveAll(outDir); err != nil {
		return 0, fmt.Errorf("clearing output directory: %w", err)
	}
	for i := 0; i <= s.Buckets; i++ {
		if err := os.MkdirAll(filepath.Join(outDir, strconv.Itoa(i)), 0755); err != nil {
			return 0, fmt.Errorf("creating bucket directory: %w", err)
		}
	}

	f, err := os.Open(intermediate)
	if err != nil {
		return 0, fmt.Errorf("opening intermediate: %w", err)
	}
	defer f.Close()

	count := 0
	err = scanArticles(f, func(a rawArticle) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		bucket := strconv.Itoa(count % s.Buckets)
		path := filepath.Join(outDir, bucket, uuid.NewString()+xmlExt)
		if err := writeArticle(f, a, path); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// decompress gunzips src into dst.
func decompress(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer in.Close()

	zr, err := pgzip.NewReader(bufio.NewReader(in))
	if err != nil {
		return fmt.Errorf("opening gzip stream: %w", err)
	}
	defer zr.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating intermediate: %w", err)
	}

	if _, err := io.Copy(out, zr); err != nil {
		out.Close()
		return fmt.Errorf("decompressing: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing intermediate: %w", err)
	}
	return nil
}

// rawArticle locates one serialized article element in the intermediate file.
type rawArticle struct {
	start, end int64
	// nsDecls are root namespace declarations the article does not redeclare.
	nsDecls []xml.Attr
}

// scanArticles streams r and calls fn for every article element that is a
// direct child of the root element, in document order.
func scanArticles(r io.Reader, fn func(rawArticle) error) error {
	dec := xml.NewDecoder(bufio.NewReaderSize(r, decodeBufferSize))
	dec.Entity = xml.HTMLEntity

	var rootNS []xml.Attr
	sawRoot := false
	depth := 0
	var cur *rawArticle

	for {
		offset := dec.InputOffset()
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("parsing XML: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch {
			case depth == 0:
				sawRoot = true
				rootNS = namespaceDecls(t.Attr)
			case depth == 1 && t.Name.Local == articleTag:
				cur = &rawArticle{start: offset, nsDecls: missingDecls(rootNS, t.Attr)}
			}
			depth++
		case xml.EndElement:
			depth--
			if depth == 1 && cur != nil {
				cur.end = dec.InputOffset()
				if err := fn(*cur); err != nil {
					return err
				}
				cur = nil
			}
		}
	}

	if !sawRoot {
		return fmt.Errorf("parsing XML: no root element")
	}
	if depth != 0 {
		return fmt.Errorf("parsing XML: unexpected end of document")
	}
	return nil
}

func namespaceDecls(attrs []xml.Attr) []xml.Attr {
	var decls []xml.Attr
	for _, a := range attrs {
		if isNamespaceDecl(a) {
			decls = append(decls, a)
		}
	}
	return decls
}

func isNamespaceDecl(a xml.Attr) bool {
	return a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns")
}

// missingDecls returns the root declarations not redeclared by attrs.
func missingDecls(root, attrs []xml.Attr) []xml.Attr {
	var missing []xml.Attr
	for _, d := range root {
		found := false
		for _, a := range attrs {
			if isNamespaceDecl(a) && a.Name == d.Name {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, d)
		}
	}
	return missing
}

// writeArticle copies the article's bytes from src to path, injecting
// inherited namespace declarations into its start tag.
func writeArticle(src io.ReaderAt, a rawArticle, path string) error {
	data := make([]byte, a.end-a.start)
	if _, err := src.ReadAt(data, a.start); err != nil {
		return fmt.Errorf("reading article bytes: %w", err)
	}

	// The offset before the start tag may precede leading whitespace.
	if i := bytes.IndexByte(data, '<'); i > 0 {
		data = data[i:]
	}

	var buf bytes.Buffer
	buf.Grow(len(data) + 128)
	if len(a.nsDecls) > 0 {
		tagEnd := bytes.IndexAny(data, " \t\r\n/>")
		if tagEnd < 0 {
			return fmt.Errorf("malformed article start tag")
		}
		buf.Write(data[:tagEnd])
		for _, d := range a.nsDecls {
			buf.WriteByte(' ')
			if d.Name.Space == "xmlns" {
				buf.WriteString("xmlns:" + d.Name.Local)
			} else {
				buf.WriteString("xmlns")
			}
			buf.WriteString(`="`)
			xml.EscapeText(&buf, []byte(d.Value))
			buf.WriteByte('"')
		}
		buf.Write(data[tagEnd:])
	} else {
		buf.Write(data)
	}
	buf.WriteByte('\n')

	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing article: %w", err)
	}
	return nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
