package mem

import (
	"fmt"
	"math/rand"
	"time"
)

const charset = "abcdefghijklmnopqrstuvwxyz " +
	"ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789 " +
	",./;'\\ \" []{}<>?:|!@$%^&*()_+-= " +
	"\r\n\r\n\r\n "

const template = "From: %s\r\n" +
	"To: %s\r\n" +
	"Subject: A little message, just for you\r\n" +
	"Date: %s\r\n" +
	"Message-ID: <%d.%d@localhost>\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n%s"

var seededRand = rand.New(rand.NewSource(time.Now().UnixMilli()))

func stringWithCharset(length int, charset string) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[seededRand.Intn(len(charset))]
	}
	return string(b)
}

// GenerateEmail returns a random message with a unique Message-ID for this seed and id
func GenerateEmail(from, to string, seed int64, id uint32, date time.Time, maxSize int) []byte {
	length := 1
	if maxSize > 1 {
		length += seededRand.Intn(maxSize)
	}
	msg := fmt.Sprintf(template, from, to, date.Format(time.RFC1123Z), seed, id, stringWithCharset(length, charset))
	return []byte(msg)
}
