package bundle

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"
)

// TarMIME is the declared MIME type for a deterministic tar bundle.
const TarMIME = "application/x-tar"

// modeOf extracts the full unix permission bits (including setuid/setgid/
// sticky, not just the low 0o777 fs.FileMode.Perm() exposes) so a tar
// round-trip preserves mode to the full 0o7777 the node guarantees.
func modeOf(info fs.FileInfo, fallback int64) int64 {
	if info == nil {
		return fallback
	}
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return int64(st.Mode) & 0o7777
	}
	return int64(info.Mode().Perm()) & 0o7777
}

func mtimeSecsOf(info fs.FileInfo) int64 {
	if info == nil {
		return 0
	}
	return info.ModTime().Unix()
}

func headerForDir(info fs.FileInfo, archivePath string) *tar.Header {
	return &tar.Header{
		Format:   tar.FormatUSTAR,
		Typeflag: tar.TypeDir,
		Name:     archivePath + "/",
		Size:     0,
		Mode:     modeOf(info, 0o755),
		ModTime:  time.Unix(mtimeSecsOf(info), 0).UTC(),
		Uid:      0,
		Gid:      0,
	}
}

func headerForFile(info fs.FileInfo, archivePath string, size int64) *tar.Header {
	return &tar.Header{
		Format:   tar.FormatUSTAR,
		Typeflag: tar.TypeReg,
		Name:     archivePath,
		Size:     size,
		Mode:     modeOf(info, 0o644),
		ModTime:  time.Unix(mtimeSecsOf(info), 0).UTC(),
		Uid:      0,
		Gid:      0,
	}
}

// appendDirDeterministic writes a directory entry for fsDir at archiveDir,
// then walks its children in sorted relative-path order, skipping symlinks
// and other special files.
func appendDirDeterministic(w *tar.Writer, fsDir, archiveDir string) error {
	rootInfo, err := os.Stat(fsDir)
	if err != nil {
		return fmt.Errorf("stat %s: %w", fsDir, err)
	}
	if err := w.WriteHeader(headerForDir(rootInfo, archiveDir)); err != nil {
		return fmt.Errorf("write dir header %s: %w", archiveDir, err)
	}

	var rels []string
	err = filepath.WalkDir(fsDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if p == fsDir {
			return nil
		}
		rel, err := filepath.Rel(fsDir, p)
		if err != nil {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 || (!d.IsDir() && !d.Type().IsRegular()) {
			return nil
		}
		rels = append(rels, rel)
		return nil
	})
	if err != nil {
		return err
	}
	sort.Strings(rels)

	for _, rel := range rels {
		fsPath := filepath.Join(fsDir, rel)
		archivePath := path.Join(archiveDir, filepath.ToSlash(rel))
		info, err := os.Stat(fsPath)
		if err != nil {
			return fmt.Errorf("stat %s: %w", fsPath, err)
		}
		if info.IsDir() {
			if err := w.WriteHeader(headerForDir(info, archivePath)); err != nil {
				return fmt.Errorf("write dir header %s: %w", archivePath, err)
			}
			continue
		}
		if err := appendFileDeterministic(w, fsPath, archivePath, info); err != nil {
			return err
		}
	}
	return nil
}

func appendFileDeterministic(w *tar.Writer, fsFile, archivePath string, info fs.FileInfo) error {
	if info == nil {
		var err error
		info, err = os.Stat(fsFile)
		if err != nil {
			return fmt.Errorf("stat %s: %w", fsFile, err)
		}
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	f, err := os.Open(fsFile)
	if err != nil {
		return fmt.Errorf("open %s: %w", fsFile, err)
	}
	defer f.Close()

	if err := w.WriteHeader(headerForFile(info, archivePath, info.Size())); err != nil {
		return fmt.Errorf("write file header %s: %w", archivePath, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("copy %s: %w", fsFile, err)
	}
	return nil
}

// BuildTarBundle packs paths into a deterministic tar archive.
//
// If every path is a regular file and they all share a common ancestor
// directory with at least one level of nesting below it, the relative
// tree under that ancestor is preserved (some file managers represent
// "copy folder" as a flat list of the folder's files, with no directory
// entry of its own in the clipboard's uri-list).
func BuildTarBundle(paths []string) ([]byte, error) {
	var buf bytes.Buffer
	w := tar.NewWriter(&buf)

	allFiles := true
	var parentDirs []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		if !info.Mode().IsRegular() {
			allFiles = false
			break
		}
		parentDirs = append(parentDirs, filepath.Dir(p))
	}

	var treeRoot, treeRootName string
	if allFiles && len(parentDirs) > 0 {
		root := commonPathPrefix(parentDirs)
		if root != "" {
			nested := false
			for _, p := range paths {
				rel, err := filepath.Rel(root, p)
				if err != nil {
					continue
				}
				if strings.Count(filepath.ToSlash(rel), "/") >= 1 {
					nested = true
					break
				}
			}
			if nested {
				if n := filepath.Base(root); n != "." && n != string(filepath.Separator) {
					treeRoot = root
					treeRootName = n
				}
			}
		}
	}

	if treeRoot != "" {
		dirs := map[string]struct{}{treeRootName: {}}
		var order []string
		order = append(order, treeRootName)
		for _, p := range paths {
			rel, err := filepath.Rel(treeRoot, p)
			if err != nil {
				continue
			}
			parent := filepath.Dir(rel)
			for parent != "." && parent != string(filepath.Separator) && parent != "" {
				archiveDir := path.Join(treeRootName, filepath.ToSlash(parent))
				if _, ok := dirs[archiveDir]; !ok {
					dirs[archiveDir] = struct{}{}
					order = append(order, archiveDir)
				}
				parent = filepath.Dir(parent)
			}
		}
		sort.Strings(order)
		for _, d := range order {
			var fsDir string
			if d == treeRootName {
				fsDir = treeRoot
			} else {
				rel := strings.TrimPrefix(d, treeRootName+"/")
				fsDir = filepath.Join(treeRoot, filepath.FromSlash(rel))
			}
			info, err := os.Stat(fsDir)
			if err != nil {
				return nil, fmt.Errorf("stat %s: %w", fsDir, err)
			}
			if err := w.WriteHeader(headerForDir(info, d)); err != nil {
				return nil, fmt.Errorf("write dir header %s: %w", d, err)
			}
		}
	}

	for _, p := range paths {
		name := filepath.Base(p)
		if name == "" || name == "." || name == string(filepath.Separator) {
			name = "item"
		}
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		switch {
		case info.IsDir():
			if err := appendDirDeterministic(w, p, name); err != nil {
				return nil, err
			}
		case info.Mode().IsRegular():
			if treeRoot != "" {
				if rel, err := filepath.Rel(treeRoot, p); err == nil {
					archiveName := path.Join(treeRootName, filepath.ToSlash(rel))
					if err := appendFileDeterministic(w, p, archiveName, info); err != nil {
						return nil, err
					}
					continue
				}
			}
			if err := appendFileDeterministic(w, p, name, info); err != nil {
				return nil, err
			}
		default:
			// symlinks/specials are skipped for safety.
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finish tar: %w", err)
	}
	return buf.Bytes(), nil
}

// ErrPathTraversal is returned by UnpackTarBytes when an entry's joined
// target path still falls outside the destination directory after its
// name has been re-rooted.
var ErrPathTraversal = errors.New("bundle: tar entry escapes destination")

// UnpackTarBytes extracts a tar archive into dest. Each entry name is
// re-rooted under dest before joining (a leading "/" and any ".."
// components are cleaned away), so "../x" lands at dest/x and "/etc/x"
// at dest/etc/x: such entries are kept inside dest, not rejected.
func UnpackTarBytes(data []byte, dest string) error {
	r := tar.NewReader(bytes.NewReader(data))
	for {
		hdr, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("tar entry: %w", err)
		}

		cleanName := path.Clean("/" + filepath.ToSlash(hdr.Name))
		target := filepath.Join(dest, filepath.FromSlash(cleanName))
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(filepath.Separator)) && target != filepath.Clean(dest) {
			return ErrPathTraversal
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)&0o7777|0o700); err != nil {
				return fmt.Errorf("mkdir %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
				return fmt.Errorf("mkdir %s: %w", filepath.Dir(target), err)
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode)&0o7777|0o600)
			if err != nil {
				return fmt.Errorf("create %s: %w", target, err)
			}
			if _, err := io.Copy(f, r); err != nil {
				f.Close()
				return fmt.Errorf("write %s: %w", target, err)
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("close %s: %w", target, err)
			}
			mtime := hdr.ModTime
			_ = os.Chtimes(target, mtime, mtime)
		default:
			// skip symlinks/specials on extraction too.
		}
	}
}

// ListTopLevelItems lists dir's immediate children (files and
// directories), sorted, truncated to maxItems.
func ListTopLevelItems(dir string, maxItems int) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	items := make([]string, 0, len(entries))
	for _, e := range entries {
		items = append(items, filepath.Join(dir, e.Name()))
	}
	sort.Strings(items)
	if len(items) > maxItems {
		items = items[:maxItems]
	}
	return items
}

// ListFilesRecursively lists every regular file under dir, sorted,
// truncated to maxItems.
func ListFilesRecursively(dir string, maxItems int) []string {
	var files []string
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	sort.Strings(files)
	if len(files) > maxItems {
		files = files[:maxItems]
	}
	return files
}
