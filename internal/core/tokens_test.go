package core

import (
	"os"
	"path/filepath"
	"testing"
)

func TestJSONFileTokenStorage_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tokens.json")
	s := NewJSONFileTokenStorage(path)

	all, err := s.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll on missing file: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("missing file should read as empty, got %v", all)
	}

	if err := s.Save("a@example.com", "tok-a"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save("b@example.com", "tok-b"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	token, ok, err := s.Load("a@example.com")
	if err != nil || !ok || token != "tok-a" {
		t.Fatalf("Load = %q, %v, %v", token, ok, err)
	}

	// a fresh instance reads the same file
	all, err = NewJSONFileTokenStorage(path).LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(all) != 2 || all["b@example.com"] != "tok-b" {
		t.Fatalf("LoadAll = %v", all)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file should be renamed away, stat err = %v", err)
	}
}

func TestJSONFileTokenStorage_EmptyTokenIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	s := NewJSONFileTokenStorage(path)

	if err := s.Save("a", ""); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("empty token should not create the file")
	}
}

func TestJSONFileTokenStorage_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	s := NewJSONFileTokenStorage(path)
	tokens, err := s.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(tokens) != 0 {
		t.Fatalf("corrupt file should read as empty, got %v", tokens)
	}

	accounts, err := BuildAccounts([]map[string]string{{"email": "a@example.com"}}, s)
	if err != nil {
		t.Fatalf("BuildAccounts: %v", err)
	}
	if len(accounts) != 1 || accounts[0].HasToken() {
		t.Fatalf("accounts = %+v", accounts)
	}
}

func TestJSONFileTokenStorage_SaveRepairsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	s := NewJSONFileTokenStorage(path)
	if err := s.Save("a", "tok"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	token, ok, err := s.Load("a")
	if err != nil || !ok || token != "tok" {
		t.Fatalf("Load = %q, %v, %v", token, ok, err)
	}
}

func TestBuildAccounts(t *testing.T) {
	storage := NewMemoryTokenStorage()
	storage.Save("a@example.com", "saved")
	storage.Save("13800000000", "saved-mobile")

	creds := []map[string]string{
		{"email": "a@example.com", "password": "x"},
		{"mobile": "13800000000", "id": "ignored", "password": "y", "token": "from-config"},
		{"password": "z", "token": "cfg"},
	}
	accounts, err := BuildAccounts(creds, storage)
	if err != nil {
		t.Fatalf("BuildAccounts: %v", err)
	}
	if len(accounts) != 3 {
		t.Fatalf("got %d accounts", len(accounts))
	}

	if accounts[0].Token != "saved" || accounts[0].Status != "logged_in" {
		t.Errorf("account 0 = %+v", accounts[0])
	}
	if _, leaked := accounts[1].Credentials["token"]; leaked {
		t.Error("token should not be kept in credentials")
	}
	if accounts[1].ID != "13800000000" || accounts[1].Token != "from-config" {
		t.Errorf("account 1 = %+v", accounts[1])
	}
	if accounts[2].ID != "account-3" || accounts[2].Token != "cfg" {
		t.Errorf("account 2 = %+v", accounts[2])
	}
}

func TestMaskSecret(t *testing.T) {
	if got := MaskSecret("short"); got != "*****" {
		t.Errorf("MaskSecret(short) = %q", got)
	}
	if got := MaskSecret("sk-1234567890"); got != "sk-1*****7890" {
		t.Errorf("MaskSecret = %q", got)
	}
}
