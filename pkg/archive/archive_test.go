package archive

import (
	"archive/zip"
	"bytes"
	"compress/flate"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"strings"
	"testing"
)

// buildEncrypted writes a one-entry WinZip AES archive, the inverse of Open.
func buildEncrypted(t *testing.T, name string, content []byte, password string, strength byte, deflate bool) []byte {
	t.Helper()
	n, err := keyLen(strength)
	if err != nil {
		t.Fatal(err)
	}

	payload := content
	method := uint16(zip.Store)
	if deflate {
		var buf bytes.Buffer
		fw, _ := flate.NewWriter(&buf, flate.DefaultCompression)
		fw.Write(content)
		fw.Close()
		payload = buf.Bytes()
		method = zip.Deflate
	}

	salt := bytes.Repeat([]byte{0x5a}, n/2)
	encKey, macKey, verifier := deriveKeys(password, salt, n)
	cipherText := make([]byte, len(payload))
	if err := ctrXOR(encKey, cipherText, payload); err != nil {
		t.Fatal(err)
	}
	mac := hmac.New(sha1.New, macKey)
	mac.Write(cipherText)

	var body bytes.Buffer
	body.Write(salt)
	body.Write(verifier)
	body.Write(cipherText)
	body.Write(mac.Sum(nil)[:authCodeLen])

	extra := make([]byte, 11)
	binary.LittleEndian.PutUint16(extra[0:], extraWinZipAES)
	binary.LittleEndian.PutUint16(extra[2:], 7)
	binary.LittleEndian.PutUint16(extra[4:], 2)
	copy(extra[6:], "AE")
	extra[8] = strength
	binary.LittleEndian.PutUint16(extra[9:], method)

	var out bytes.Buffer
	zw := zip.NewWriter(&out)
	w, err := zw.CreateRaw(&zip.FileHeader{
		Name:               name,
		Method:             methodWinZipAES,
		Flags:              0x1,
		Extra:              extra,
		CompressedSize64:   uint64(body.Len()),
		UncompressedSize64: uint64(len(content)),
		CRC32:              crc32.ChecksumIEEE(content),
	})
	if err != nil {
		t.Fatalf("CreateRaw: %v", err)
	}
	w.Write(body.Bytes())
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return out.Bytes()
}

const credentialCSV = "ip_address,cli_username,cli_password,snmp_retries,snmpv3_privacy_type\n" +
	"10.0.0.1,admin,secret,3,CISCOAES192\n" +
	"10.0.0.2,admin,,3,\n"

func TestOpenEncrypted(t *testing.T) {
	for _, strength := range []byte{1, 2, 3} {
		for _, deflate := range []bool{false, true} {
			data := buildEncrypted(t, "credentials.csv", []byte(credentialCSV), "Exp0rt!pw", strength, deflate)
			entries, err := Open(data, "Exp0rt!pw", 256)
			if err != nil {
				t.Fatalf("Open(strength=%d, deflate=%v) error = %v", strength, deflate, err)
			}
			if len(entries) != 1 || string(entries[0].Data) != credentialCSV {
				t.Errorf("Open(strength=%d, deflate=%v) = %+v", strength, deflate, entries)
			}
		}
	}
}

func TestOpenWrongPassword(t *testing.T) {
	data := buildEncrypted(t, "c.csv", []byte(credentialCSV), "right", 3, true)
	if _, err := Open(data, "wrong", 256); !errors.Is(err, ErrBadPassword) {
		t.Errorf("Open() error = %v, want ErrBadPassword", err)
	}
}

func TestOpenTamperedArchive(t *testing.T) {
	data := buildEncrypted(t, "c.csv", []byte(credentialCSV), "pw", 1, false)
	// Flip a byte of ciphertext; the local header is 30 bytes + name + extra.
	off := 30 + len("c.csv") + 11 + 8 + 2 + 3
	data[off] ^= 0xff
	if _, err := Open(data, "pw", 128); err == nil || !strings.Contains(err.Error(), "authentication code") {
		t.Errorf("Open() error = %v, want authentication failure", err)
	}
}

func TestOpenPlainZip(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create("devices.csv")
	w.Write([]byte("ip_address,hostname\n10.0.0.1,sw1\n"))
	zw.Close()

	entries, err := Open(buf.Bytes(), "", 256)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "devices.csv" {
		t.Errorf("Open() = %+v", entries)
	}
}

func TestParseCSV(t *testing.T) {
	table, err := ParseCSV([]byte("\xef\xbb\xbf" + credentialCSV))
	if err != nil {
		t.Fatalf("ParseCSV() error = %v", err)
	}
	if len(table.Header) != 5 || table.Header[0] != "ip_address" {
		t.Errorf("Header = %v", table.Header)
	}
	if len(table.Rows) != 2 {
		t.Fatalf("Rows = %d, want 2", len(table.Rows))
	}
	if _, ok := table.Rows[1]["cli_password"]; ok {
		t.Error("empty cell should be absent")
	}
	idx := table.Index("ip_address")
	if idx["10.0.0.1"]["snmpv3_privacy_type"] != "CISCOAES192" {
		t.Errorf("Index() = %v", idx)
	}
}

func TestParseCSVEmpty(t *testing.T) {
	table, err := ParseCSV(nil)
	if err != nil || len(table.Rows) != 0 {
		t.Errorf("ParseCSV(nil) = %+v, %v", table, err)
	}
}

func TestReadExport(t *testing.T) {
	plain, err := ReadExport([]byte("ip_address,hostname\n10.0.0.1,sw1\n"), "", 0)
	if err != nil || len(plain.Rows) != 1 {
		t.Errorf("ReadExport(plain) = %+v, %v", plain, err)
	}

	data := buildEncrypted(t, "creds.csv", []byte(credentialCSV), "pw", 2, true)
	enc, err := ReadExport(data, "pw", 192)
	if err != nil {
		t.Fatalf("ReadExport(encrypted) error = %v", err)
	}
	if len(enc.Rows) != 2 {
		t.Errorf("Rows = %d, want 2", len(enc.Rows))
	}
}

func TestMergeAndWrite(t *testing.T) {
	a, _ := ParseCSV([]byte("ip_address,hostname\n10.0.0.1,sw1\n"))
	b, _ := ParseCSV([]byte("ip_address,serial\n10.0.0.2,FOC1\n"))
	a.Merge(b)

	if got := strings.Join(a.Header, ","); got != "ip_address,hostname,serial" {
		t.Errorf("Header = %q", got)
	}
	var buf bytes.Buffer
	if err := a.Write(&buf); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	want := "ip_address,hostname,serial\n10.0.0.1,sw1,\n10.0.0.2,,FOC1\n"
	if buf.String() != want {
		t.Errorf("Write() = %q, want %q", buf.String(), want)
	}
}
