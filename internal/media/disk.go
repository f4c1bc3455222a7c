package media

import (
	"compress/gzip"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/smalltalk/internal/logger"
)

// DiskRoute: префикс, под которым Disk раздаёт файлы.
const DiskRoute = "/media/"

// Disk хранит файлы сжатыми (.gz) в локальном каталоге и выдаёт подписанные ссылки
// с ограниченным сроком жизни. Для разработки и одиночных установок без S3.
type Disk struct {
	root    string
	baseURL string
	secret  []byte
	expiry  time.Duration
	now     func() time.Time
}

// NewDisk: baseURL: внешний адрес API (может быть пустым, тогда ссылки относительные);
// пустой secret заменяется случайным, и ссылки перестают действовать после перезапуска.
func NewDisk(root, baseURL, secret string, expiry time.Duration) (*Disk, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("media: disk root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("media: create %s: %w", root, err)
	}
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("media: secret: %w", err)
		}
	}
	if expiry <= 0 {
		expiry = defaultURLExpiry
	}
	return &Disk{
		root:    root,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		secret:  key,
		expiry:  expiry,
		now:     time.Now,
	}, nil
}

func (d *Disk) URL(ctx context.Context, p string) (string, error) {
	key, err := objectKey(p)
	if err != nil {
		return "", err
	}
	exp := strconv.FormatInt(d.now().Add(d.expiry).Unix(), 10)
	q := url.Values{"exp": {exp}, "sig": {d.sign(key, exp)}}
	return d.baseURL + DiskRoute + key + "?" + q.Encode(), nil
}

func (d *Disk) Upload(ctx context.Context, p string, r io.Reader, size int64, contentType string) error {
	defer logger.DeferLogDuration("media.Disk.Upload", time.Now())()
	key, err := objectKey(p)
	if err != nil {
		return err
	}
	dst := d.file(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("media: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return fmt.Errorf("media: create: %w", err)
	}
	gz := gzip.NewWriter(tmp)
	if err := copyWithContext(ctx, gz, r); err != nil {
		gz.Close()
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := gz.Close(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("media: compress: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("media: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("media: rename: %w", err)
	}
	return nil
}

// ServeHTTP отдаёт файл по подписанной ссылке, распаковывая на лету.
func (d *Disk) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key, err := objectKey(strings.TrimPrefix(r.URL.Path, DiskRoute))
	if err != nil {
		http.Error(w, "bad path", http.StatusBadRequest)
		return
	}
	exp := r.URL.Query().Get("exp")
	sig := r.URL.Query().Get("sig")
	expUnix, err := strconv.ParseInt(exp, 10, 64)
	if err != nil || !hmac.Equal([]byte(sig), []byte(d.sign(key, exp))) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if d.now().Unix() > expUnix {
		http.Error(w, "link expired", http.StatusForbidden)
		return
	}
	f, err := os.Open(d.file(key))
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		logger.Errorf("media: read %s: %v", key, err)
		http.Error(w, "failed to read file", http.StatusInternalServerError)
		return
	}
	defer gz.Close()
	if ct := contentTypeByExt(path.Ext(key)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, gz)
}

func (d *Disk) sign(key, exp string) string {
	mac := hmac.New(sha256.New, d.secret)
	mac.Write([]byte(key))
	mac.Write([]byte{0})
	mac.Write([]byte(exp))
	return hex.EncodeToString(mac.Sum(nil))
}

func (d *Disk) file(key string) string {
	return filepath.Join(d.root, filepath.FromSlash(key)) + ".gz"
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("upload cancelled: %w", err)
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("read: %w", readErr)
		}
	}
}

func contentTypeByExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".m4a":
		return "audio/mp4"
	case ".mp3":
		return "audio/mpeg"
	case ".ogg":
		return "audio/ogg"
	case ".webm":
		return "audio/webm"
	case ".aac":
		return "audio/aac"
	}
	return ""
}

var (
	_ Store        = (*Disk)(nil)
	_ http.Handler = (*Disk)(nil)
)
