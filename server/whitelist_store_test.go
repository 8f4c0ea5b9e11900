package main

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ggsecure/iris-server/pkg/detection"
)

var testDBSeq atomic.Int64

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:iris-test-%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Account{}, &AgentSession{}, &WhitelistEntry{}, &Restriction{}, &EnrollmentToken{}))
	return db
}

func TestWhitelistStore_CaseInsensitiveMatch(t *testing.T) {
	store := NewWhitelistStore(openTestDB(t))

	_, err := store.Add(WhitelistEntry{Type: "process", Identifier: "Razer Synapse"})
	require.NoError(t, err)

	for _, name := range []string{"razer synapse", "RAZER SYNAPSE", "Razer Synapse"} {
		listed, err := store.IsWhitelisted(detection.CategoryProcess, name, "")
		require.NoError(t, err)
		assert.True(t, listed, name)
	}

	listed, err := store.IsWhitelisted(detection.CategoryProcess, "aimbot.exe", "")
	require.NoError(t, err)
	assert.False(t, listed)
}

func TestWhitelistStore_TypeScoped(t *testing.T) {
	store := NewWhitelistStore(openTestDB(t))

	_, err := store.Add(WhitelistEntry{Type: "process", Identifier: "obs64.exe"})
	require.NoError(t, err)

	listed, err := store.IsWhitelisted(detection.CategoryDriver, "obs64.exe", "")
	require.NoError(t, err)
	assert.False(t, listed, "entry for one type must not match another")
}

func TestWhitelistStore_SecondaryMatching(t *testing.T) {
	store := NewWhitelistStore(openTestDB(t))

	// VID-only entry matches any PID; VID+PID entry matches only the pair.
	_, err := store.Add(WhitelistEntry{Type: "usb_device", Identifier: "0x046d"})
	require.NoError(t, err)
	_, err = store.Add(WhitelistEntry{Type: "usb_device", Identifier: "0x1532", Secondary: "0x0084"})
	require.NoError(t, err)

	listed, err := store.IsWhitelisted(detection.CategoryUSBDevice, "0x046d", "0xc52b")
	require.NoError(t, err)
	assert.True(t, listed, "wildcard secondary matches every pair")

	listed, err = store.IsWhitelisted(detection.CategoryUSBDevice, "0x1532", "0x0084")
	require.NoError(t, err)
	assert.True(t, listed)

	listed, err = store.IsWhitelisted(detection.CategoryUSBDevice, "0x1532", "0xffff")
	require.NoError(t, err)
	assert.False(t, listed, "pinned secondary must not match other pids")
}

func TestWhitelistStore_Filter(t *testing.T) {
	store := NewWhitelistStore(openTestDB(t))

	_, err := store.Add(WhitelistEntry{Type: "process", Identifier: "obs64.exe"})
	require.NoError(t, err)

	kept, err := store.Filter(detection.CategoryProcess, []detection.Finding{
		{Name: "OBS64.EXE"},
		{Name: "aimbot.exe"},
	})
	require.NoError(t, err)
	require.Len(t, kept, 1)
	assert.Equal(t, "aimbot.exe", kept[0].Name)
}

func TestWhitelistStore_FilterMatchesWildcardAndPinnedInOnePass(t *testing.T) {
	store := NewWhitelistStore(openTestDB(t))

	_, err := store.Add(WhitelistEntry{Type: "usb_device", Identifier: "0x046d"})
	require.NoError(t, err)
	_, err = store.Add(WhitelistEntry{Type: "usb_device", Identifier: "0x1532", Secondary: "0x0084"})
	require.NoError(t, err)

	kept, err := store.Filter(detection.CategoryUSBDevice, []detection.Finding{
		{Name: "0x046D", Secondary: "0xC52B"},
		{Name: "0x1532", Secondary: "0x0084"},
		{Name: "0x1532", Secondary: "0xFFFF"},
	})
	require.NoError(t, err)
	require.Len(t, kept, 1, "wildcard vendor and pinned pair are both suppressed")
	assert.Equal(t, "0xFFFF", kept[0].Secondary)
}

func TestWhitelistStore_DuplicateRejected(t *testing.T) {
	store := NewWhitelistStore(openTestDB(t))

	_, err := store.Add(WhitelistEntry{Type: "process", Identifier: "obs64.exe"})
	require.NoError(t, err)
	_, err = store.Add(WhitelistEntry{Type: "Process", Identifier: "OBS64.exe"})
	require.ErrorIs(t, err, gorm.ErrDuplicatedKey, "normalization makes these the same key")
}

func TestWhitelistStore_RemoveDeactivates(t *testing.T) {
	store := NewWhitelistStore(openTestDB(t))

	entry, err := store.Add(WhitelistEntry{Type: "driver", Identifier: "rzudd.sys", Note: "razer mouse driver"})
	require.NoError(t, err)
	require.NoError(t, store.Remove(entry.ID))

	listed, err := store.IsWhitelisted(detection.CategoryDriver, "rzudd.sys", "")
	require.NoError(t, err)
	assert.False(t, listed)

	// The row survives for audit, and a second remove fails.
	entries, err := store.List("driver")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].IsActive)
	require.ErrorIs(t, store.Remove(entry.ID), gorm.ErrRecordNotFound)
}

func TestWhitelistStore_ReAddReactivatesInPlace(t *testing.T) {
	store := NewWhitelistStore(openTestDB(t))

	entry, err := store.Add(WhitelistEntry{Type: "driver", Identifier: "rzudd.sys"})
	require.NoError(t, err)
	require.NoError(t, store.Remove(entry.ID))

	again, err := store.Add(WhitelistEntry{Type: "Driver", Identifier: "RZUDD.SYS", Note: "cleared after review"})
	require.NoError(t, err)
	assert.Equal(t, entry.ID, again.ID, "the deactivated row is reused")
	assert.Equal(t, "cleared after review", again.Note)

	listed, err := store.IsWhitelisted(detection.CategoryDriver, "rzudd.sys", "")
	require.NoError(t, err)
	assert.True(t, listed)
}
