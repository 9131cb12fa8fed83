package blobstore

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"audiobatch/internal/artifact"
	"audiobatch/internal/services"
)

// LocalStore keeps objects as files under a root directory. Object keys map
// directly onto the directory layout, with a sidecar file per object for the
// content type. Presigned URLs are file:// URLs carrying an HMAC signature
// so the query API keeps one code path for both backends.
type LocalStore struct {
	root   string
	secret []byte
}

const contentTypeSuffix = ".content-type"

// NewLocalStore creates the root directory and a signing secret for presign
// stubs.
func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "", "store.connect", root, err)
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "", "store.connect", "generate signing secret", err)
	}
	return &LocalStore{root: root, secret: secret}, nil
}

func (s *LocalStore) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return services.Wrap(services.ErrTransient, "", "store.put", key, err)
	}

	// Write to a temp file in the same directory so the final rename is
	// atomic and readers never see a partial object.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return services.Wrap(services.ErrTransient, "", "store.put", key, err)
	}
	written, err := io.Copy(tmp, reader)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return services.Wrap(services.ErrTransient, "", "store.put", key, err)
	}
	if size >= 0 && written != size {
		os.Remove(tmp.Name())
		return services.Wrap(services.ErrValidation, "", "store.put", fmt.Sprintf("%s: wrote %d bytes, declared %d", key, written, size), nil)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return services.Wrap(services.ErrTransient, "", "store.put", key, err)
	}
	if contentType != "" {
		if err := os.WriteFile(path+contentTypeSuffix, []byte(contentType), 0o644); err != nil {
			return services.Wrap(services.ErrTransient, "", "store.put", key, err)
		}
	}
	return nil
}

func (s *LocalStore) Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	info, err := s.Stat(ctx, key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	path, err := s.resolve(key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, ObjectInfo{}, services.Wrap(services.ErrTransient, "", "store.get", key, err)
	}
	return file, info, nil
}

func (s *LocalStore) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	path, err := s.resolve(key)
	if err != nil {
		return ObjectInfo{}, err
	}
	stat, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ObjectInfo{}, services.Wrap(services.ErrNotFound, "", "store.stat", key, err)
		}
		return ObjectInfo{}, services.Wrap(services.ErrTransient, "", "store.stat", key, err)
	}
	info := ObjectInfo{Key: key, Size: stat.Size(), LastModified: stat.ModTime().UTC()}
	if body, err := os.ReadFile(path + contentTypeSuffix); err == nil {
		info.ContentType = strings.TrimSpace(string(body))
	}
	return info, nil
}

func (s *LocalStore) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if _, err := s.Stat(ctx, key); err != nil {
		return "", err
	}
	path, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	expires := time.Now().Add(expiry).Unix()
	values := url.Values{}
	values.Set("expires", strconv.FormatInt(expires, 10))
	values.Set("signature", s.sign(key, expires))
	return "file://" + path + "?" + values.Encode(), nil
}

// VerifyPresign checks the signature and expiry produced by PresignGet.
func (s *LocalStore) VerifyPresign(key string, expires int64, signature string) error {
	if time.Now().Unix() > expires {
		return services.Wrap(services.ErrForbidden, "", "store.presign", "url expired", nil)
	}
	if !hmac.Equal([]byte(signature), []byte(s.sign(key, expires))) {
		return services.Wrap(services.ErrForbidden, "", "store.presign", "bad signature", nil)
	}
	return nil
}

func (s *LocalStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var infos []ObjectInfo
	err := filepath.WalkDir(s.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || strings.HasSuffix(path, contentTypeSuffix) || strings.HasPrefix(entry.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := s.Stat(ctx, key)
		if err != nil {
			return err
		}
		infos = append(infos, info)
		return nil
	})
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "", "store.list", prefix, err)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

func (s *LocalStore) resolve(key string) (string, error) {
	if _, err := artifact.ParseKey(key); err != nil {
		return "", services.Wrap(services.ErrValidation, "", "store.key", key, err)
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

func (s *LocalStore) sign(key string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	payload, _ := json.Marshal([2]any{key, expires})
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
