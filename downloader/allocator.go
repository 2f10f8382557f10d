// Package downloader saves image candidates to a local directory.
package downloader

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aluiziolira/go-scrape-images/errs"
	lru "github.com/hashicorp/golang-lru/v2"
)

// FallbackName is used when a URL path has no usable basename.
const FallbackName = "image.jpg"

// DefaultLockCacheSize bounds the number of per-directory locks kept alive.
const DefaultLockCacheSize = 256

// Allocator hands out collision-free file names. Name choice and file creation
// happen under a per-directory lock, and files are created with O_EXCL so an
// existing file is never overwritten even by another process.
//
// Locks in use are pinned in held; only idle locks live in the LRU, so a
// directory's lock is never evicted while a caller holds it.
type Allocator struct {
	mu   sync.Mutex
	held map[string]*dirLock
	idle *lru.Cache[string, *dirLock]
}

type dirLock struct {
	sync.Mutex
	refs int
}

// NewAllocator builds an allocator keeping up to size idle directory locks.
func NewAllocator(size int) (*Allocator, error) {
	if size <= 0 {
		size = DefaultLockCacheSize
	}
	idle, err := lru.New[string, *dirLock](size)
	if err != nil {
		return nil, fmt.Errorf("create lock cache: %w", err)
	}
	return &Allocator{held: make(map[string]*dirLock), idle: idle}, nil
}

func (a *Allocator) acquire(dir string) *dirLock {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.held[dir]
	if !ok {
		if l, ok = a.idle.Get(dir); ok {
			a.idle.Remove(dir)
		} else {
			l = &dirLock{}
		}
		a.held[dir] = l
	}
	l.refs++
	return l
}

func (a *Allocator) release(dir string, l *dirLock) {
	a.mu.Lock()
	defer a.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(a.held, dir)
		a.idle.Add(dir, l)
	}
}

// Create opens a new file in dir named name, or name_1, name_2, ... when taken.
// The caller owns the returned file.
func (a *Allocator) Create(dir, name string) (*os.File, string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, "", errs.ErrFilesystem{Path: dir, Err: err}
	}

	l := a.acquire(abs)
	defer a.release(abs, l)
	l.Lock()
	defer l.Unlock()

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 0; ; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s_%d%s", stem, i, ext)
		}
		target := filepath.Join(abs, candidate)
		f, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			return f, target, nil
		}
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		return nil, "", errs.ErrFilesystem{Path: target, Err: err}
	}
}

// FileName derives the local name for an image URL from its path basename.
func FileName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return FallbackName
	}
	base := path.Base(u.Path)
	switch base {
	case "", ".", "/", "..":
		return FallbackName
	}
	if strings.ContainsAny(base, `/\`) || strings.ContainsRune(base, 0) {
		return FallbackName
	}
	return base
}
