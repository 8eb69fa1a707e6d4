// Package archive turns a bare mirror into a single transferable blob and
// back, and encrypts that blob in place.
//
// The blob is a gzip-compressed tar whose entries are rooted at the mirror
// directory name ("app.git/HEAD", "app.git/objects/..."). Unpacking checks
// that root against the mirror being restored, so a blob can only ever
// replace the mirror it was made from.
package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Codec packs and unpacks mirror directories.
type Codec interface {
	// Pack writes srcDir, rooted at its base name, to the blob at dst.
	Pack(ctx context.Context, srcDir, dst string) error
	// Unpack extracts the blob at src as mirrorDir, replacing any existing
	// directory there. The blob's root must equal the base name of mirrorDir.
	Unpack(ctx context.Context, src, mirrorDir string) error
}

// TarGz is the tar + gzip Codec.
type TarGz struct {
	// Level is the gzip compression level; zero means gzip.DefaultCompression.
	Level int
}

var _ Codec = TarGz{}

// Pack implements Codec.
func (c TarGz) Pack(ctx context.Context, srcDir, dst string) (err error) {
	info, err := os.Stat(srcDir)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", srcDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", srcDir)
	}

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close archive: %w", cerr)
		}
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	level := c.Level
	if level == 0 {
		level = gzip.DefaultCompression
	}
	gz, err := gzip.NewWriterLevel(out, level)
	if err != nil {
		return fmt.Errorf("failed to create gzip writer: %w", err)
	}
	tw := tar.NewWriter(gz)

	root := filepath.Base(srcDir)
	walkErr := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(filepath.Join(root, rel))
		return addEntry(tw, path, name, d)
	})
	if walkErr != nil {
		return fmt.Errorf("failed to pack %s: %w", srcDir, walkErr)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finish tar stream: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to finish gzip stream: %w", err)
	}
	return nil
}

func addEntry(tw *tar.Writer, path, name string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}
	link := ""
	if info.Mode()&os.ModeSymlink != 0 {
		if link, err = os.Readlink(path); err != nil {
			return err
		}
	}
	hdr, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return err
	}
	hdr.Name = name
	if info.IsDir() {
		hdr.Name += "/"
	}
	// Ownership is meaningless on restore and varies between hosts.
	hdr.Uid, hdr.Gid, hdr.Uname, hdr.Gname = 0, 0, "", ""
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()
	_, err = io.Copy(tw, f)
	return err
}

// Unpack implements Codec. The tree is extracted into a staging directory
// next to mirrorDir and renamed over it only after the whole stream has been
// read, so a corrupt blob leaves the existing mirror as it was.
func (c TarGz) Unpack(ctx context.Context, src, mirrorDir string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer func() {
		_ = in.Close()
	}()

	gz, err := gzip.NewReader(in)
	if err != nil {
		return fmt.Errorf("failed to read gzip stream: %w", err)
	}
	defer func() {
		_ = gz.Close()
	}()

	parent := filepath.Dir(mirrorDir)
	root := filepath.Base(mirrorDir)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", parent, err)
	}
	staging, err := os.MkdirTemp(parent, "."+root+".unpack-*")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	// A no-op once staging has been renamed into place.
	defer func() {
		_ = os.RemoveAll(staging)
	}()
	if err := os.Chmod(staging, 0755); err != nil {
		return fmt.Errorf("failed to chmod staging directory: %w", err)
	}

	tr := tar.NewReader(gz)
	entries := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read tar entry: %w", err)
		}

		name := strings.TrimSuffix(hdr.Name, "/")
		top, rest, _ := strings.Cut(name, "/")
		if top != root {
			return fmt.Errorf("archive entry %q is outside root %q", hdr.Name, root)
		}
		entries++

		target := filepath.Join(staging, filepath.FromSlash(rest))
		if target != staging && !strings.HasPrefix(target, staging+string(filepath.Separator)) {
			return fmt.Errorf("archive entry %q escapes destination", hdr.Name)
		}
		if err := extract(tr, hdr, target); err != nil {
			return fmt.Errorf("failed to extract %s: %w", hdr.Name, err)
		}
	}
	if entries == 0 {
		return fmt.Errorf("archive is empty")
	}
	// The tar end marker can precede the gzip trailer; reading to the end
	// verifies the checksum.
	if _, err := io.Copy(io.Discard, gz); err != nil {
		return fmt.Errorf("failed to read gzip stream: %w", err)
	}

	if err := os.RemoveAll(mirrorDir); err != nil {
		return fmt.Errorf("failed to remove existing %s: %w", root, err)
	}
	if err := os.Rename(staging, mirrorDir); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", root, err)
	}
	return nil
}

func extract(tr *tar.Reader, hdr *tar.Header, target string) error {
	mode := os.FileMode(hdr.Mode).Perm()
	switch hdr.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(target, mode|0700)
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode|0600)
		if err != nil {
			return err
		}
		if _, err := io.Copy(f, tr); err != nil {
			_ = f.Close()
			return err
		}
		return f.Close()
	case tar.TypeSymlink:
		if filepath.IsAbs(hdr.Linkname) || strings.HasPrefix(filepath.Clean(hdr.Linkname), "..") {
			return fmt.Errorf("unsafe symlink target %q", hdr.Linkname)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		return os.Symlink(hdr.Linkname, target)
	default:
		// Devices, fifos and hard links never appear in a bare mirror.
		return nil
	}
}
