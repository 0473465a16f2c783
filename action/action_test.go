package action

import (
	"bytes"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestAction(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Action Suite")
}

func newTestSession() (*Session, *bytes.Buffer) {
	var buf bytes.Buffer
	return &Session{Out: &buf}, &buf
}

func fakeDispatcher(defs ...*Def) *Dispatcher {
	return &Dispatcher{defs: defs}
}

var _ = Describe("Quit", func() {
	It("matches q and quit only", func() {
		Expect(Quit("q")).To(BeTrue())
		Expect(Quit("quit")).To(BeTrue())
		Expect(Quit("run")).To(BeFalse())
	})
})

var _ = Describe("Dispatch", func() {
	It("is a no-op on an empty line", func() {
		s, buf := newTestSession()
		d := fakeDispatcher()
		Expect(d.Dispatch(s, "   ")).To(Succeed())
		Expect(buf.String()).To(BeEmpty())
	})

	It("reports an unrecognized action and lists the supported ones", func() {
		s, buf := newTestSession()
		d := fakeDispatcher(&Def{Name: "run"})
		Expect(d.Dispatch(s, "bogus")).To(Succeed())
		Expect(buf.String()).To(ContainSubstring("invalid action"))
		Expect(buf.String()).To(ContainSubstring("run"))
	})

	It("resolves an alias to the same Def as its canonical name", func() {
		called := false
		def := &Def{
			Name:    "step",
			Aliases: []string{"s"},
			NoEntity: func(s *Session, _ []string) error {
				called = true
				return nil
			},
		}
		s, _ := newTestSession()
		d := fakeDispatcher(def)
		Expect(d.Dispatch(s, "s")).To(Succeed())
		Expect(called).To(BeTrue())
	})

	It("reports a missing entity when NoEntity is unset", func() {
		s, buf := newTestSession()
		def := &Def{Name: "break", Help: "break addr <x>\n"}
		d := fakeDispatcher(def)
		Expect(d.Dispatch(s, "break")).To(Succeed())
		Expect(buf.String()).To(ContainSubstring("requires an entity"))
	})

	It("reports an invalid entity token", func() {
		s, buf := newTestSession()
		def := &Def{
			Name:     "break",
			Help:     "break addr <x>\n",
			Handlers: map[Entity]Handler{EntityAddress: func(*Session, []string) error { return nil }},
		}
		d := fakeDispatcher(def)
		Expect(d.Dispatch(s, "break bogus")).To(Succeed())
		Expect(buf.String()).To(ContainSubstring("invalid entity"))
	})

	It("reports an entity with no handler registered for this action", func() {
		s, buf := newTestSession()
		def := &Def{
			Name:     "break",
			Help:     "break addr <x>\n",
			Handlers: map[Entity]Handler{EntityAddress: func(*Session, []string) error { return nil }},
		}
		d := fakeDispatcher(def)
		Expect(d.Dispatch(s, "break func main")).To(Succeed())
		Expect(buf.String()).To(ContainSubstring("invalid entity"))
	})

	It("routes entity args to the matching handler", func() {
		var gotArgs []string
		def := &Def{
			Name: "break",
			Handlers: map[Entity]Handler{
				EntityAddress: func(s *Session, args []string) error {
					gotArgs = args
					return nil
				},
			},
		}
		s, _ := newTestSession()
		d := fakeDispatcher(def)
		Expect(d.Dispatch(s, "break addr 0x400000")).To(Succeed())
		Expect(gotArgs).To(Equal([]string{"0x400000"}))
	})

	It("dispatches bare help to PrintAllHelp", func() {
		s, buf := newTestSession()
		d := fakeDispatcher(&Def{Kind: Help, Name: "help", Help: "help\n"}, &Def{Name: "run", Help: "run\n"})
		Expect(d.Dispatch(s, "help")).To(Succeed())
		Expect(buf.String()).To(ContainSubstring("run"))
	})

	It("dispatches help <action> to that action's help text", func() {
		s, buf := newTestSession()
		d := fakeDispatcher(&Def{Kind: Help, Name: "help", Help: "help\n"}, &Def{Name: "run", Help: "run: starts the tracee\n"})
		Expect(d.Dispatch(s, "help run")).To(Succeed())
		Expect(buf.String()).To(ContainSubstring("starts the tracee"))
	})
})

var _ = Describe("parseArg", func() {
	It("parses decimal", func() {
		v, err := parseArg("42")
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(BeEquivalentTo(42))
	})

	It("parses 0x-prefixed hex", func() {
		v, err := parseArg("0x400000")
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(BeEquivalentTo(0x400000))
	})

	It("rejects garbage", func() {
		_, err := parseArg("not-a-number")
		Expect(err).To(HaveOccurred())
	})

	It("rejects an empty string", func() {
		_, err := parseArg("")
		Expect(err).To(HaveOccurred())
	})
})
