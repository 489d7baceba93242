package logfile

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// Journal appends dated lines to a single plain-text file.
// Writes are serialized and the file is opened per write so a line
// is never lost to an unflushed buffer.
type Journal struct {
	mu   sync.Mutex
	name string
}

func NewJournal(name string) *Journal {
	return &Journal{name: name}
}

func (j *Journal) Severe(s string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	file, err := os.OpenFile(j.filename(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(file, "%s %s\n", time.Now().Format("2006-01-02 15:04:05"), s)
	if errClose := file.Close(); err == nil {
		err = errClose
	}
	return err
}

func (j *Journal) Severef(format string, args ...interface{}) error {
	return j.Severe(fmt.Sprintf(format, args...))
}

func (j *Journal) filename() string {
	return j.name
}
