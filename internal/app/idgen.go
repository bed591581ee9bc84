/**
 * @description
 * Identifier generation for virtual account numbers and transaction ids.
 *
 * Virtual account numbers are fixed-length (14 digit) numeric strings drawn
 * from crypto/rand with rejection sampling, so every digit is uniformly
 * distributed. Transaction ids keep the human-readable convention downstream
 * callers rely on for provider tagging (`TXN_...`, with `TOSS_`/`KAKAO_`/
 * `NAVER_` prepended by the provider stubs) while strengthening uniqueness:
 * a millisecond timestamp, a process-wide monotonic sequence, and a random
 * suffix derived from a UUID.
 *
 * @dependencies
 * - crypto/rand, fmt, strings, sync/atomic, time: Standard Go libraries.
 * - github.com/google/uuid: Source of the random id suffix.
 */

package app

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const virtualAccountNumberLength = 14

// IDGenerator produces virtual account numbers and transaction ids.
// The zero value is ready to use; a single instance is shared by the service.
type IDGenerator struct {
	seq atomic.Uint64
}

// VirtualAccountNumber returns a 14-digit numeric string. Uniqueness is
// probabilistic; the registry detects collisions on insert.
func (g *IDGenerator) VirtualAccountNumber() string {
	digits, err := randomDigits(virtualAccountNumberLength)
	if err != nil {
		// crypto/rand failure leaves no safe fallback for account numbers;
		// derive digits from a UUID instead.
		digits = digitsFromUUID(virtualAccountNumberLength)
	}
	return digits
}

// TransactionID returns an id of the form TXN_<millis>_<seq>_<rand>.
// The monotonic sequence guarantees uniqueness within the process even when
// two ids are generated in the same millisecond.
func (g *IDGenerator) TransactionID() string {
	return fmt.Sprintf("TXN_%d_%d_%s",
		time.Now().UnixMilli(),
		g.seq.Add(1),
		strings.Split(uuid.NewString(), "-")[0],
	)
}

// randomDigits generates count uniformly distributed decimal digits using
// rejection sampling: bytes >= 250 are discarded so that mod 10 is unbiased.
func randomDigits(count int) (string, error) {
	const threshold = 250 // 256 - (256 % 10)

	var sb strings.Builder
	sb.Grow(count)
	buf := make([]byte, 32)
	for sb.Len() < count {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= threshold {
				continue
			}
			sb.WriteByte('0' + b%10)
			if sb.Len() == count {
				break
			}
		}
	}
	return sb.String(), nil
}

func digitsFromUUID(count int) string {
	var sb strings.Builder
	sb.Grow(count)
	for sb.Len() < count {
		for _, b := range uuid.New() {
			sb.WriteByte('0' + b%10)
			if sb.Len() == count {
				break
			}
		}
	}
	return sb.String()
}
