package term

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
	"golang.org/x/xerrors"
)

// DefaultWidth используется, когда stdout не терминал.
const DefaultWidth = 80

// ErrClosed возвращается, когда ввод закончился.
var ErrClosed = xerrors.New("input closed")

// Terminal обеспечивает построчный ввод и определение размеров терминала.
type Terminal struct {
	in       *bufio.Reader
	out      io.Writer
	stdinfd  int
	stdoutfd int
}

// NewTerminal создает Terminal поверх стандартных потоков процесса.
func NewTerminal() *Terminal {
	return &Terminal{
		in:       bufio.NewReader(os.Stdin),
		out:      os.Stdout,
		stdinfd:  int(os.Stdin.Fd()),
		stdoutfd: int(os.Stdout.Fd()),
	}
}

// New создает Terminal поверх произвольных потоков. Такой терминал не считается интерактивным.
func New(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{
		in:       bufio.NewReader(in),
		out:      out,
		stdinfd:  -1,
		stdoutfd: -1,
	}
}

// Out возвращает поток вывода.
func (t *Terminal) Out() io.Writer {
	return t.out
}

// Interactive сообщает, подключен ли ввод к терминалу.
func (t *Terminal) Interactive() bool {
	return t.stdinfd >= 0 && term.IsTerminal(t.stdinfd)
}

// Width возвращает ширину терминала или DefaultWidth.
func (t *Terminal) Width() int {
	if t.stdoutfd < 0 || !term.IsTerminal(t.stdoutfd) {
		return DefaultWidth
	}
	w, _, err := term.GetSize(t.stdoutfd)
	if err != nil || w <= 0 {
		return DefaultWidth
	}
	return w
}

// ReadLine печатает приглашение и читает строку без завершающего перевода строки.
func (t *Terminal) ReadLine(_ context.Context, prompt string) (string, error) {
	if prompt != "" {
		fmt.Fprint(t.out, prompt)
	}
	line, err := t.in.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		if err == io.EOF {
			return "", ErrClosed
		}
		return "", xerrors.Errorf("failed to read line: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Secret запрашивает значение без эха, например токен доступа.
func (t *Terminal) Secret(ctx context.Context, prompt string) (string, error) {
	if !t.Interactive() {
		line, err := t.ReadLine(ctx, prompt)
		return strings.TrimSpace(line), err
	}
	fmt.Fprint(t.out, prompt)
	secret, err := term.ReadPassword(t.stdinfd)
	if err != nil {
		return "", xerrors.Errorf("failed to read secret: %w", err)
	}
	fmt.Fprintln(t.out) // Новая строка после ввода
	return strings.TrimSpace(string(secret)), nil
}

// IsTerminal сообщает, подключен ли файл к терминалу.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
