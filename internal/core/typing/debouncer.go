package typing

import (
	"sync"
	"time"
)

// После DefaultQuietPeriod без нажатий отправляется "перестал печатать".
const DefaultQuietPeriod = 2 * time.Second

// Debouncer превращает поток нажатий клавиш в события набора текста.
// Каждое нажатие сразу отправляет true и перезапускает таймер тишины, по истечении которого отправляется false.
type Debouncer struct {
	send  func(isTyping bool)
	quiet time.Duration

	mu    sync.Mutex
	timer *time.Timer

	// Номер текущего таймера. Сработавший чужой таймер ничего не отправляет.
	gen uint64
}

// NewDebouncer создает Debouncer. Если quiet не положителен, используется DefaultQuietPeriod.
func NewDebouncer(quiet time.Duration, send func(isTyping bool)) *Debouncer {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	return &Debouncer{send: send, quiet: quiet}
}

// Keystroke регистрирует нажатие клавиши.
func (d *Debouncer) Keystroke() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(d.quiet, func() { d.expire(gen) })
	d.mu.Unlock()

	d.send(true)
}

// Flush немедленно отправляет false и отменяет таймер. Вызывается при отправке сообщения.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	d.cancelLocked()
	d.mu.Unlock()

	d.send(false)
}

// Stop отменяет таймер без отправки события.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
}

func (d *Debouncer) cancelLocked() {
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Debouncer) expire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.mu.Unlock()

	d.send(false)
}
