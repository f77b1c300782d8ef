// Package archive decodes the files produced by the controller's device
// export: password-protected zip archives (WinZip AES) holding CSV tables.
package archive

import (
	"archive/zip"
	"bytes"
	"compress/flate"
	"crypto/aes"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	methodWinZipAES   = 99
	extraWinZipAES    = 0x9901
	pbkdf2Iterations  = 1000
	passwordVerifyLen = 2
	authCodeLen       = 10
)

// ErrBadPassword is returned when the archive password does not match.
var ErrBadPassword = errors.New("archive password is incorrect")

// Entry is one decoded file of an archive.
type Entry struct {
	Name string
	Data []byte
}

// aesExtra is the WinZip AES extra field (0x9901).
type aesExtra struct {
	version  uint16
	strength byte
	method   uint16
}

// keyLen returns the AES key length in bytes for a strength code.
func keyLen(strength byte) (int, error) {
	switch strength {
	case 1:
		return 16, nil
	case 2:
		return 24, nil
	case 3:
		return 32, nil
	default:
		return 0, fmt.Errorf("unknown AES strength %d", strength)
	}
}

// strengthFor maps a key size in bits to the WinZip strength code.
func strengthFor(bits int) byte {
	switch bits {
	case 128:
		return 1
	case 192:
		return 2
	default:
		return 3
	}
}

func parseAESExtra(extra []byte) (*aesExtra, bool) {
	for len(extra) >= 4 {
		id := binary.LittleEndian.Uint16(extra[0:2])
		size := int(binary.LittleEndian.Uint16(extra[2:4]))
		if 4+size > len(extra) {
			return nil, false
		}
		body := extra[4 : 4+size]
		if id == extraWinZipAES && size >= 7 {
			return &aesExtra{
				version:  binary.LittleEndian.Uint16(body[0:2]),
				strength: body[4],
				method:   binary.LittleEndian.Uint16(body[5:7]),
			}, true
		}
		extra = extra[4+size:]
	}
	return nil, false
}

// Open decodes every file in a zip archive. Entries stored with WinZip AES
// are decrypted with password; keyBits (128, 192 or 256) is used when an
// entry does not carry its own strength marker. Plain entries are read as is.
func Open(data []byte, password string, keyBits int) ([]Entry, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("reading archive: %w", err)
	}
	var entries []Entry
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		content, err := readEntry(f, password, keyBits)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name, err)
		}
		entries = append(entries, Entry{Name: f.Name, Data: content})
	}
	return entries, nil
}

func readEntry(f *zip.File, password string, keyBits int) ([]byte, error) {
	if f.Method != methodWinZipAES {
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}

	ext, ok := parseAESExtra(f.Extra)
	if !ok {
		ext = &aesExtra{version: 2, strength: strengthFor(keyBits), method: zip.Deflate}
	}
	raw, err := f.OpenRaw()
	if err != nil {
		return nil, err
	}
	enc, err := io.ReadAll(raw)
	if err != nil {
		return nil, err
	}
	plain, err := decrypt(enc, password, ext.strength)
	if err != nil {
		return nil, err
	}
	return decompress(plain, ext.method)
}

// deriveKeys runs PBKDF2-HMAC-SHA1 and splits the output into the AES key,
// the HMAC key and the password verifier.
func deriveKeys(password string, salt []byte, n int) (encKey, macKey, verifier []byte) {
	dk := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, 2*n+passwordVerifyLen, sha1.New)
	return dk[:n], dk[n : 2*n], dk[2*n:]
}

// decrypt verifies and decrypts one WinZip AES payload laid out as
// salt | verifier | ciphertext | auth code.
func decrypt(enc []byte, password string, strength byte) ([]byte, error) {
	n, err := keyLen(strength)
	if err != nil {
		return nil, err
	}
	saltLen := n / 2
	if len(enc) < saltLen+passwordVerifyLen+authCodeLen {
		return nil, errors.New("encrypted entry is truncated")
	}
	salt := enc[:saltLen]
	verify := enc[saltLen : saltLen+passwordVerifyLen]
	body := enc[saltLen+passwordVerifyLen : len(enc)-authCodeLen]
	code := enc[len(enc)-authCodeLen:]

	encKey, macKey, verifier := deriveKeys(password, salt, n)
	if subtle.ConstantTimeCompare(verify, verifier) != 1 {
		return nil, ErrBadPassword
	}

	mac := hmac.New(sha1.New, macKey)
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil)[:authCodeLen], code) {
		return nil, errors.New("archive authentication code mismatch")
	}

	out := make([]byte, len(body))
	if err := ctrXOR(encKey, out, body); err != nil {
		return nil, err
	}
	return out, nil
}

// ctrXOR applies AES in WinZip's counter mode: a 16-byte little-endian
// counter starting at 1.
func ctrXOR(key, dst, src []byte) error {
	block, err := aes.NewCipher(key)
	if err != nil {
		return err
	}
	var counter, stream [aes.BlockSize]byte
	for off := 0; off < len(src); off += aes.BlockSize {
		incrementLE(counter[:])
		block.Encrypt(stream[:], counter[:])
		end := off + aes.BlockSize
		if end > len(src) {
			end = len(src)
		}
		for i := off; i < end; i++ {
			dst[i] = src[i] ^ stream[i-off]
		}
	}
	return nil
}

func incrementLE(b []byte) {
	for i := range b {
		b[i]++
		if b[i] != 0 {
			return
		}
	}
}

func decompress(data []byte, method uint16) ([]byte, error) {
	switch method {
	case zip.Store:
		return data, nil
	case zip.Deflate:
		r := flate.NewReader(bytes.NewReader(data))
		defer r.Close()
		return io.ReadAll(r)
	default:
		return nil, fmt.Errorf("unsupported compression method %d", method)
	}
}
