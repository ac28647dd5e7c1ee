// Package shm attaches to named POSIX shared memory areas guarded by a
// process-shared mutex and condition variable.
//
// Layout: a header {uint32 size, pthread_mutex_t, pthread_cond_t, struct
// timeval timestamp} followed by size bytes of frame data. Producers write
// under the mutex, set the timestamp and broadcast the condition.
package shm

/*
#cgo LDFLAGS: -lrt -lpthread

#include <stdlib.h>
#include <stdint.h>
#include <string.h>
#include <errno.h>
#include <fcntl.h>
#include <unistd.h>
#include <pthread.h>
#include <time.h>
#include <sys/mman.h>
#include <sys/stat.h>
#include <sys/time.h>

typedef struct {
    uint32_t size;
    pthread_mutex_t mutex;
    pthread_cond_t cond;
    struct timeval timestamp;
} area_header;

typedef struct {
    area_header* hdr;
    size_t map_len;
    int interrupted;
} area_t;

static area_t* area_map(int fd, size_t map_len) {
    void* p = mmap(NULL, map_len, PROT_READ | PROT_WRITE, MAP_SHARED, fd, 0);
    if (p == MAP_FAILED) {
        return NULL;
    }
    area_t* a = (area_t*)calloc(1, sizeof(area_t));
    if (a == NULL) {
        munmap(p, map_len);
        return NULL;
    }
    a->hdr = (area_header*)p;
    a->map_len = map_len;
    return a;
}

// Returns NULL and sets *err to errno on failure.
static area_t* area_create(const char* name, uint32_t size, int* err) {
    int fd = shm_open(name, O_RDWR | O_CREAT | O_EXCL, 0600);
    if (fd == -1) {
        *err = errno;
        return NULL;
    }
    size_t map_len = sizeof(area_header) + size;
    if (ftruncate(fd, (off_t)map_len) != 0) {
        *err = errno;
        close(fd);
        shm_unlink(name);
        return NULL;
    }
    area_t* a = area_map(fd, map_len);
    close(fd);
    if (a == NULL) {
        *err = errno;
        shm_unlink(name);
        return NULL;
    }

    memset(a->hdr, 0, sizeof(area_header));
    a->hdr->size = size;

    pthread_mutexattr_t ma;
    pthread_mutexattr_init(&ma);
    pthread_mutexattr_setpshared(&ma, PTHREAD_PROCESS_SHARED);
    pthread_mutex_init(&a->hdr->mutex, &ma);
    pthread_mutexattr_destroy(&ma);

    pthread_condattr_t ca;
    pthread_condattr_init(&ca);
    pthread_condattr_setpshared(&ca, PTHREAD_PROCESS_SHARED);
    pthread_cond_init(&a->hdr->cond, &ca);
    pthread_condattr_destroy(&ca);
    return a;
}

static area_t* area_attach(const char* name, int* err) {
    int fd = shm_open(name, O_RDWR, 0600);
    if (fd == -1) {
        *err = errno;
        return NULL;
    }
    struct stat st;
    if (fstat(fd, &st) != 0 || (size_t)st.st_size < sizeof(area_header)) {
        *err = EINVAL;
        close(fd);
        return NULL;
    }
    area_t* a = area_map(fd, (size_t)st.st_size);
    close(fd);
    if (a == NULL) {
        *err = errno;
        return NULL;
    }
    if (sizeof(area_header) + a->hdr->size > a->map_len) {
        munmap(a->hdr, a->map_len);
        free(a);
        *err = EINVAL;
        return NULL;
    }
    return a;
}

static void area_release(area_t* a) {
    munmap(a->hdr, a->map_len);
    free(a);
}

static int area_lock(area_t* a) { return pthread_mutex_lock(&a->hdr->mutex); }
static int area_unlock(area_t* a) { return pthread_mutex_unlock(&a->hdr->mutex); }

static int area_notify(area_t* a) {
    pthread_mutex_lock(&a->hdr->mutex);
    int rc = pthread_cond_broadcast(&a->hdr->cond);
    pthread_mutex_unlock(&a->hdr->mutex);
    return rc;
}

// Blocks until the condition is signalled. Polls the interrupt flag every
// poll_ms so a local Interrupt never wakes other processes' waiters.
// Returns 0 when signalled, ECANCELED when interrupted.
static int area_wait(area_t* a, int poll_ms) {
    int rc = 0;
    pthread_mutex_lock(&a->hdr->mutex);
    for (;;) {
        if (__atomic_load_n(&a->interrupted, __ATOMIC_SEQ_CST)) {
            rc = ECANCELED;
            break;
        }
        struct timespec ts;
        clock_gettime(CLOCK_REALTIME, &ts);
        ts.tv_sec += poll_ms / 1000;
        ts.tv_nsec += (long)(poll_ms % 1000) * 1000000L;
        if (ts.tv_nsec >= 1000000000L) {
            ts.tv_sec += 1;
            ts.tv_nsec -= 1000000000L;
        }
        rc = pthread_cond_timedwait(&a->hdr->cond, &a->hdr->mutex, &ts);
        if (rc != ETIMEDOUT) {
            break;
        }
    }
    pthread_mutex_unlock(&a->hdr->mutex);
    return rc;
}

static void area_interrupt(area_t* a) {
    __atomic_store_n(&a->interrupted, 1, __ATOMIC_SEQ_CST);
}

static uint8_t* area_data(area_t* a) { return (uint8_t*)(a->hdr + 1); }
static uint32_t area_size(area_t* a) { return a->hdr->size; }

static void area_get_timestamp(area_t* a, int64_t* sec, int64_t* usec) {
    *sec = (int64_t)a->hdr->timestamp.tv_sec;
    *usec = (int64_t)a->hdr->timestamp.tv_usec;
}

static void area_set_timestamp(area_t* a, int64_t sec, int64_t usec) {
    a->hdr->timestamp.tv_sec = (time_t)sec;
    a->hdr->timestamp.tv_usec = (suseconds_t)usec;
}
*/
import "C"
import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
	"unsafe"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/logger"
)

// ErrInterrupted is returned by Wait after Interrupt has been called
var ErrInterrupted = errors.New("shm: wait interrupted")

const waitPollMillis = 100

// Area is a mapped shared memory area
type Area struct {
	area  *C.area_t
	name  string
	owner bool // created by us; unlinked on Close

	mu     sync.Mutex // guards area against Close
	valid  atomic.Bool
	locked atomic.Bool
}

func normalizeName(name string) string {
	if !strings.HasPrefix(name, "/") {
		return "/" + name
	}
	return name
}

// Attach opens an existing area. When timeout is positive it keeps retrying
// once per second until the producer has created the area.
func Attach(name string, timeout time.Duration) (*Area, error) {
	if name == "" {
		return nil, errors.New("shm: empty area name")
	}
	name = normalizeName(name)

	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))

	deadline := time.Now().Add(timeout)
	for attempt := 0; ; attempt++ {
		var cerr C.int
		a := C.area_attach(cName, &cerr)
		if a != nil {
			area := &Area{area: a, name: name}
			area.valid.Store(true)
			logger.Info("SHM", "Attached to %s (%d bytes)", name, area.Size())
			return area, nil
		}

		errno := syscall.Errno(cerr)
		if errno != syscall.ENOENT || !time.Now().Before(deadline) {
			return nil, fmt.Errorf("attach shared memory %s: %w", name, errno)
		}
		// Log waiting status (only every 5 seconds to reduce noise)
		if attempt%5 == 0 {
			logger.Info("SHM", "Waiting for shared memory %s to appear...", name)
		}
		time.Sleep(time.Second)
	}
}

// Create creates a new area with room for size bytes of data. The area is
// unlinked again when the returned Area is closed.
func Create(name string, size int) (*Area, error) {
	if name == "" {
		return nil, errors.New("shm: empty area name")
	}
	if size <= 0 || uint64(size) > uint64(^uint32(0)) {
		return nil, fmt.Errorf("shm: invalid area size %d", size)
	}
	name = normalizeName(name)

	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))

	var cerr C.int
	a := C.area_create(cName, C.uint32_t(size), &cerr)
	if a == nil {
		return nil, fmt.Errorf("create shared memory %s: %w", name, syscall.Errno(cerr))
	}

	area := &Area{area: a, name: name, owner: true}
	area.valid.Store(true)
	logger.Info("SHM", "Created %s (%d bytes)", name, size)
	return area, nil
}

// Name returns the normalized area name
func (a *Area) Name() string {
	return a.name
}

// Valid reports whether the area is still mapped and not interrupted
func (a *Area) Valid() bool {
	return a.valid.Load()
}

// Size returns the number of data bytes in the area
func (a *Area) Size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.area == nil {
		return 0
	}
	return int(C.area_size(a.area))
}

// Wait blocks until a producer notifies the area. It returns ErrInterrupted
// once Interrupt has been called.
func (a *Area) Wait() error {
	a.mu.Lock()
	area := a.area
	a.mu.Unlock()
	if area == nil {
		return ErrInterrupted
	}

	rc := C.area_wait(area, C.int(waitPollMillis))
	switch syscall.Errno(rc) {
	case 0:
		return nil
	case syscall.ECANCELED:
		return ErrInterrupted
	default:
		return fmt.Errorf("shm: wait on %s: %w", a.name, syscall.Errno(rc))
	}
}

// Lock acquires exclusive access to the data. On error the area is not
// locked and its data must not be touched.
func (a *Area) Lock() error {
	a.mu.Lock()
	area := a.area
	a.mu.Unlock()
	if area == nil {
		return ErrInterrupted
	}
	if rc := C.area_lock(area); rc != 0 {
		return fmt.Errorf("shm: lock %s: %w", a.name, syscall.Errno(rc))
	}
	a.locked.Store(true)
	return nil
}

// Unlock releases exclusive access to the data
func (a *Area) Unlock() {
	if !a.locked.Swap(false) {
		return
	}
	if rc := C.area_unlock(a.area); rc != 0 {
		logger.Error("SHM", "unlock %s failed: %v", a.name, syscall.Errno(rc))
	}
}

// Notify wakes every process waiting on the area
func (a *Area) Notify() {
	C.area_notify(a.area)
}

// Data returns the shared data bytes. The slice aliases shared memory and
// must only be touched while the area is locked.
func (a *Area) Data() []byte {
	size := int(C.area_size(a.area))
	return unsafe.Slice((*byte)(unsafe.Pointer(C.area_data(a.area))), size)
}

// TimeStamp returns the capture time stored by the producer; ok is false
// when the producer never set one.
func (a *Area) TimeStamp() (ts time.Time, ok bool) {
	var sec, usec C.int64_t
	C.area_get_timestamp(a.area, &sec, &usec)
	if sec == 0 && usec == 0 {
		return time.Time{}, false
	}
	return time.Unix(int64(sec), int64(usec)*int64(time.Microsecond)), true
}

// SetTimeStamp stores the capture time of the frame currently in the area.
// Call it with the area locked.
func (a *Area) SetTimeStamp(ts time.Time) {
	usec := ts.UnixMicro()
	C.area_set_timestamp(a.area, C.int64_t(usec/1e6), C.int64_t(usec%1e6))
}

// Interrupt makes a pending or future Wait return ErrInterrupted and marks
// the area invalid. Other processes attached to the area are not woken.
func (a *Area) Interrupt() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.valid.Store(false)
	if a.area != nil {
		C.area_interrupt(a.area)
	}
}

// Close unmaps the area, unlinking it when this process created it.
// The caller must ensure no Wait is in progress.
func (a *Area) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.area == nil {
		return nil
	}
	a.valid.Store(false)
	C.area_release(a.area)
	a.area = nil

	if a.owner {
		cName := C.CString(a.name)
		defer C.free(unsafe.Pointer(cName))
		if rc, err := C.shm_unlink(cName); rc != 0 {
			return fmt.Errorf("unlink shared memory %s: %w", a.name, err)
		}
	}
	logger.Info("SHM", "Closed %s", a.name)
	return nil
}
