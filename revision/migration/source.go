package migration

import (
	"bytes"
	"io"
	"io/fs"
	"sort"
	"time"
)

// Source 内存中的迁移文件集合（文件名 → 内容），只有根目录一层
type Source map[string][]byte

var (
	_ fs.ReadDirFS  = Source(nil)
	_ fs.ReadFileFS = Source(nil)
)

// Open 实现 fs.FS
func (s Source) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	if name == "." {
		entries, _ := s.ReadDir(".")
		return &sourceDir{entries: entries}, nil
	}
	data, ok := s[name]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return &sourceFile{info: fileInfo{name: name, size: int64(len(data))}, r: bytes.NewReader(data)}, nil
}

// ReadFile 实现 fs.ReadFileFS
func (s Source) ReadFile(name string) ([]byte, error) {
	data, ok := s[name]
	if !ok {
		return nil, &fs.PathError{Op: "read", Path: name, Err: fs.ErrNotExist}
	}
	return bytes.Clone(data), nil
}

// ReadDir 实现 fs.ReadDirFS，按文件名排序
func (s Source) ReadDir(name string) ([]fs.DirEntry, error) {
	if name != "." {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist}
	}
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	entries := make([]fs.DirEntry, len(names))
	for i, n := range names {
		entries[i] = fs.FileInfoToDirEntry(fileInfo{name: n, size: int64(len(s[n]))})
	}
	return entries, nil
}

type fileInfo struct {
	name  string
	size  int64
	isDir bool
}

func (fi fileInfo) Name() string       { return fi.name }
func (fi fileInfo) Size() int64        { return fi.size }
func (fi fileInfo) ModTime() time.Time { return time.Time{} }
func (fi fileInfo) IsDir() bool        { return fi.isDir }
func (fi fileInfo) Sys() any           { return nil }

func (fi fileInfo) Mode() fs.FileMode {
	if fi.isDir {
		return fs.ModeDir | 0o555
	}
	return 0o444
}

type sourceFile struct {
	info fileInfo
	r    *bytes.Reader
}

func (f *sourceFile) Stat() (fs.FileInfo, error) { return f.info, nil }
func (f *sourceFile) Read(p []byte) (int, error) { return f.r.Read(p) }
func (f *sourceFile) Close() error               { return nil }

type sourceDir struct {
	entries []fs.DirEntry
	offset  int
}

func (d *sourceDir) Stat() (fs.FileInfo, error) { return fileInfo{name: ".", isDir: true}, nil }
func (d *sourceDir) Close() error               { return nil }

func (d *sourceDir) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: ".", Err: fs.ErrInvalid}
}

func (d *sourceDir) ReadDir(n int) ([]fs.DirEntry, error) {
	rest := d.entries[d.offset:]
	if n <= 0 {
		d.offset = len(d.entries)
		return rest, nil
	}
	if len(rest) == 0 {
		return nil, io.EOF
	}
	if n > len(rest) {
		n = len(rest)
	}
	d.offset += n
	return rest[:n], nil
}
