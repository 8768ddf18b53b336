package wal

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// TestNew_CreatesDirectory проверяет создание директории WAL.
func TestNew_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "wal")

	w, err := New(dir, testLogger())
	if err != nil {
		t.Fatalf("ошибка создания WAL: %v", err)
	}
	if w.Dir() != dir {
		t.Errorf("ожидался путь %s, получен %s", dir, w.Dir())
	}

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("директория не создана: %v", err)
	}
	if !info.IsDir() {
		t.Fatal("путь не является директорией")
	}
}

// TestStartTransaction проверяет создание pending записи на диске.
func TestStartTransaction(t *testing.T) {
	w, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания WAL: %v", err)
	}

	entry, err := w.StartTransaction(OpUpload, "blob-id-1", "alice")
	if err != nil {
		t.Fatalf("ошибка создания транзакции: %v", err)
	}

	if entry.Status != StatusPending {
		t.Errorf("статус: ожидалось %s, получено %s", StatusPending, entry.Status)
	}
	if entry.Operation != OpUpload {
		t.Errorf("операция: ожидалось %s, получено %s", OpUpload, entry.Operation)
	}
	if entry.TransactionID == "" {
		t.Error("TransactionID не должен быть пустым")
	}

	// Файл записи существует на диске
	path := filepath.Join(w.Dir(), walFileName(entry.TransactionID))
	if _, err := os.Stat(path); err != nil {
		t.Errorf("WAL-файл не найден: %v", err)
	}
}

// TestCommit проверяет перевод транзакции в committed.
func TestCommit(t *testing.T) {
	w, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания WAL: %v", err)
	}

	entry, err := w.StartTransaction(OpUpload, "blob-id-1", "alice")
	if err != nil {
		t.Fatalf("ошибка создания транзакции: %v", err)
	}

	if err := w.Commit(entry.TransactionID); err != nil {
		t.Fatalf("ошибка коммита: %v", err)
	}

	got, err := w.GetTransaction(entry.TransactionID)
	if err != nil {
		t.Fatalf("ошибка чтения транзакции: %v", err)
	}
	if got.Status != StatusCommitted {
		t.Errorf("статус: ожидалось %s, получено %s", StatusCommitted, got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt должен быть заполнен после коммита")
	}
}

// TestRollback проверяет перевод транзакции в rolled_back.
func TestRollback(t *testing.T) {
	w, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания WAL: %v", err)
	}

	entry, err := w.StartTransaction(OpDelete, "blob-id-2", "")
	if err != nil {
		t.Fatalf("ошибка создания транзакции: %v", err)
	}

	if err := w.Rollback(entry.TransactionID); err != nil {
		t.Fatalf("ошибка отката: %v", err)
	}

	got, err := w.GetTransaction(entry.TransactionID)
	if err != nil {
		t.Fatalf("ошибка чтения транзакции: %v", err)
	}
	if got.Status != StatusRolledBack {
		t.Errorf("статус: ожидалось %s, получено %s", StatusRolledBack, got.Status)
	}
}

// TestCommit_Twice проверяет отказ при повторном завершении транзакции.
func TestCommit_Twice(t *testing.T) {
	w, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания WAL: %v", err)
	}

	entry, err := w.StartTransaction(OpUpload, "blob-id-3", "bob")
	if err != nil {
		t.Fatalf("ошибка создания транзакции: %v", err)
	}

	if err := w.Commit(entry.TransactionID); err != nil {
		t.Fatalf("ошибка коммита: %v", err)
	}
	if err := w.Commit(entry.TransactionID); err == nil {
		t.Error("повторный коммит должен вернуть ошибку")
	}
	if err := w.Rollback(entry.TransactionID); err == nil {
		t.Error("откат завершённой транзакции должен вернуть ошибку")
	}
}

// TestRecoverPending проверяет обнаружение незавершённых транзакций.
func TestRecoverPending(t *testing.T) {
	dir := t.TempDir()

	w, err := New(dir, testLogger())
	if err != nil {
		t.Fatalf("ошибка создания WAL: %v", err)
	}

	pending1, err := w.StartTransaction(OpUpload, "blob-1", "alice")
	if err != nil {
		t.Fatalf("ошибка создания транзакции: %v", err)
	}
	committed, err := w.StartTransaction(OpUpload, "blob-2", "alice")
	if err != nil {
		t.Fatalf("ошибка создания транзакции: %v", err)
	}
	if err := w.Commit(committed.TransactionID); err != nil {
		t.Fatalf("ошибка коммита: %v", err)
	}

	// Новый экземпляр поверх той же директории — имитация рестарта
	w2, err := New(dir, testLogger())
	if err != nil {
		t.Fatalf("ошибка создания WAL: %v", err)
	}

	recovered, err := w2.RecoverPending()
	if err != nil {
		t.Fatalf("ошибка восстановления: %v", err)
	}
	if len(recovered) != 1 {
		t.Fatalf("ожидалась 1 pending транзакция, получено %d", len(recovered))
	}
	if recovered[0].TransactionID != pending1.TransactionID {
		t.Errorf("ожидалась транзакция %s, получена %s",
			pending1.TransactionID, recovered[0].TransactionID)
	}
}

// TestCleanCommitted проверяет удаление завершённых записей.
func TestCleanCommitted(t *testing.T) {
	w, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания WAL: %v", err)
	}

	pending, err := w.StartTransaction(OpUpload, "blob-1", "alice")
	if err != nil {
		t.Fatalf("ошибка создания транзакции: %v", err)
	}
	committed, err := w.StartTransaction(OpUpload, "blob-2", "alice")
	if err != nil {
		t.Fatalf("ошибка создания транзакции: %v", err)
	}
	if err := w.Commit(committed.TransactionID); err != nil {
		t.Fatalf("ошибка коммита: %v", err)
	}
	rolledBack, err := w.StartTransaction(OpDelete, "blob-3", "")
	if err != nil {
		t.Fatalf("ошибка создания транзакции: %v", err)
	}
	if err := w.Rollback(rolledBack.TransactionID); err != nil {
		t.Fatalf("ошибка отката: %v", err)
	}

	cleaned, err := w.CleanCommitted()
	if err != nil {
		t.Fatalf("ошибка очистки: %v", err)
	}
	if cleaned != 2 {
		t.Errorf("ожидалось 2 удалённые записи, получено %d", cleaned)
	}

	// Pending запись осталась
	if _, err := w.GetTransaction(pending.TransactionID); err != nil {
		t.Errorf("pending запись не должна удаляться: %v", err)
	}
	if _, err := w.GetTransaction(committed.TransactionID); err == nil {
		t.Error("committed запись должна быть удалена")
	}
}
