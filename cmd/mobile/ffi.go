//go:build cgo

package main

/*
#cgo CFLAGS: -Wall -Wextra
#include <stdlib.h>
*/
import "C"
import (
	"unsafe"
)

// Every function returning *C.char hands back a JSON string the caller
// frees with FreeString, or NULL on failure with the message available
// from GetLastError.

func result(s string, err error) *C.char {
	core.setLastError(err)
	if err != nil {
		return nil
	}
	return C.CString(s)
}

// Init opens the local store. configPath and dataDir may be empty.
// Returns 0 on success and -1 on failure.
//
//export Init
func Init(configPath, dataDir *C.char) C.int {
	err := core.init(C.GoString(configPath), C.GoString(dataDir))
	core.setLastError(err)
	if err != nil {
		return -1
	}
	return 0
}

// Cleanup stops background sync and closes the store.
//
//export Cleanup
func Cleanup() {
	core.close()
}

// GetLastError returns the last error message.
//
//export GetLastError
func GetLastError() *C.char {
	return C.CString(core.lastError())
}

// FreeString frees a string returned by this library.
//
//export FreeString
func FreeString(ptr *C.char) {
	C.free(unsafe.Pointer(ptr))
}

// =====================================================
// Sync
// =====================================================

//export SyncStatus
func SyncStatus() *C.char {
	return result(core.status())
}

// SetOnline passes the platform's connectivity signal; online is 0 or 1.
//
//export SetOnline
func SetOnline(online C.int) *C.char {
	return result(core.setOnline(online != 0))
}

//export SyncNow
func SyncNow() *C.char {
	return result(core.syncNow())
}

//export ProcessQueue
func ProcessQueue() *C.char {
	return result(core.processQueue())
}

// ConflictLog lists up to limit overwritten local edits, newest first.
//
//export ConflictLog
func ConflictLog(limit C.int) *C.char {
	return result(core.conflicts(int(limit)))
}

// =====================================================
// Cache
// =====================================================

//export CacheGet
func CacheGet(collection, key *C.char) *C.char {
	return result(core.cacheGet(C.GoString(collection), C.GoString(key)))
}

// CacheList lists a collection; index and value may be empty.
//
//export CacheList
func CacheList(collection, index, value *C.char) *C.char {
	return result(core.cacheList(C.GoString(collection), C.GoString(index), C.GoString(value)))
}

// CachePut writes record (JSON) with op "create" or "update".
//
//export CachePut
func CachePut(collection, op, record *C.char) *C.char {
	return result(core.cachePut(C.GoString(collection), C.GoString(op), C.GoString(record)))
}

//export CacheDelete
func CacheDelete(collection, key *C.char) *C.char {
	return result(core.cacheDelete(C.GoString(collection), C.GoString(key)))
}

// =====================================================
// Timetable
// =====================================================

//export TimetableList
func TimetableList(filter *C.char) *C.char {
	return result(core.timetableList(C.GoString(filter)))
}

//export TimetableAdd
func TimetableAdd(entry *C.char) *C.char {
	return result(core.timetableAdd(C.GoString(entry)))
}

//export TimetableUpdate
func TimetableUpdate(id, patch *C.char) *C.char {
	return result(core.timetableUpdate(C.GoString(id), C.GoString(patch)))
}

//export TimetableDelete
func TimetableDelete(id *C.char) *C.char {
	return result(core.timetableDelete(C.GoString(id)))
}

//export TimetableCheckConflict
func TimetableCheckConflict(query *C.char) *C.char {
	return result(core.timetableCheck(C.GoString(query)))
}

//export TimetableClone
func TimetableClone(req *C.char) *C.char {
	return result(core.timetableClone(C.GoString(req)))
}

//export TimetableGrid
func TimetableGrid(filter *C.char) *C.char {
	return result(core.timetableGrid(C.GoString(filter)))
}
