package flow_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/chazu/bcir/cfg"
	"github.com/chazu/bcir/flow"
	"github.com/chazu/bcir/format"
	"github.com/chazu/bcir/ir"
)

func mustProfile(tag string) *format.Profile {
	p, err := format.ProfileFor(tag)
	Expect(err).NotTo(HaveOccurred())
	return p
}

func graphOf(p *format.Profile, fn func(b *ir.Builder)) *cfg.Graph {
	b := ir.NewBuilder(p)
	fn(b)
	seq, err := b.Sequence()
	Expect(err).NotTo(HaveOccurred())
	g, err := cfg.Build(seq, p, cfg.BuildOptions{})
	Expect(err).NotTo(HaveOccurred())
	return g
}

func kinds(issues []flow.Issue) []error {
	var out []error
	for _, is := range issues {
		out = append(out, is.Kind)
	}
	return out
}

var _ = Describe("Validate", func() {
	var v1, v3 *format.Profile

	BeforeEach(func() {
		v1 = mustProfile("v1")
		v3 = mustProfile("v3")
	})

	Context("consistent graphs", func() {
		It("should accept an if/else", func() {
			g := graphOf(v1, func(b *ir.Builder) {
				other := b.NewLabel()
				b.EmitArg("PUSH_CONST", 0)
				b.EmitJump("JUMP_IF_FALSE", other)
				b.EmitArg("PUSH_CONST", 1)
				b.Emit("RETURN")
				b.Mark(other)
				b.EmitArg("PUSH_CONST", 2)
				b.Emit("RETURN")
			})
			Expect(flow.Validate(g)).To(BeEmpty())

			n, err := flow.MaxStack(g)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))
		})

		It("should accept a loop whose head is entered with one depth", func() {
			g := graphOf(v1, func(b *ir.Builder) {
				head, done := b.NewLabel(), b.NewLabel()
				b.EmitArg("PUSH_CONST", 0)
				b.Emit("GET_ITER")
				b.Mark(head)
				b.EmitJump("FOR_ITER", done)
				b.EmitArg("STORE_NAME", 0)
				b.EmitJump("JUMP", head)
				b.Mark(done)
				b.EmitArg("PUSH_CONST", 0)
				b.Emit("RETURN")
			})
			res, issues := flow.Analyze(g)
			Expect(issues).To(BeEmpty())
			Expect(res.MaxStack).To(Equal(2))
			Expect(res.EntryDepth[g.Block(1)]).To(Equal(1))
			Expect(res.EntryDepth[g.Block(2)]).To(Equal(0))
		})

		It("should compute the maximum from argument-dependent effects", func() {
			g := graphOf(v1, func(b *ir.Builder) {
				b.EmitArg("PUSH_CONST", 0)
				b.EmitArg("PUSH_CONST", 1)
				b.EmitArg("PUSH_CONST", 2)
				b.EmitArg("BUILD_LIST", 3)
				b.Emit("RETURN")
			})
			n, err := flow.MaxStack(g)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(3))
		})

		It("should enter inline handlers with the exception pushed", func() {
			g := graphOf(v1, func(b *ir.Builder) {
				handler := b.NewLabel()
				b.EmitJump("SETUP_EXCEPT", handler)
				b.EmitArg("LOAD_NAME", 0)
				b.Emit("POP_TOP")
				b.Emit("POP_BLOCK")
				b.EmitArg("PUSH_CONST", 0)
				b.Emit("RETURN")
				b.Mark(handler)
				b.Emit("POP_TOP")
				b.EmitArg("PUSH_CONST", 0)
				b.Emit("RETURN")
			})
			res, issues := flow.Analyze(g)
			Expect(issues).To(BeEmpty())
			Expect(res.EntryDepth[g.Block(g.Len()-1)]).To(Equal(1))
		})

		It("should not modify the graph", func() {
			g := graphOf(v1, func(b *ir.Builder) {
				b.EmitArg("PUSH_CONST", 0)
				b.Emit("RETURN")
			})
			gen := g.Generation()
			flow.Validate(g)
			Expect(g.Generation()).To(Equal(gen))
			Expect(g.Header.MaxStack).To(Equal(cfg.AutoStackSize))
		})
	})

	Context("stack errors", func() {
		It("should report a join with two depths", func() {
			g := graphOf(v1, func(b *ir.Builder) {
				end := b.NewLabel()
				b.EmitArg("PUSH_CONST", 0)
				b.EmitArg("PUSH_CONST", 0)
				b.EmitJump("JUMP_IF_FALSE", end)
				b.EmitArg("PUSH_CONST", 1)
				b.Mark(end)
				b.Emit("RETURN")
			})
			join := g.Block(g.Len() - 1)

			issues := flow.Validate(g)
			Expect(issues).To(HaveLen(1))
			Expect(issues[0].Kind).To(MatchError(ir.ErrStackDepthMismatch))
			Expect(issues[0].Block).To(Equal(join))
			Expect(issues[0].Severity).To(Equal(flow.SeverityError))

			_, err := flow.MaxStack(g)
			Expect(err).To(MatchError(ir.ErrStackDepthMismatch))
		})

		It("should report an underflow at its instruction", func() {
			g := graphOf(v1, func(b *ir.Builder) {
				b.EmitArg("PUSH_CONST", 0)
				b.Emit("RETURN")
			})
			Expect(g.Entry().Insert(0, ir.MustNew(v1, "POP_TOP", ir.None).At(ir.Location{Line: 7}))).To(Succeed())

			issues := flow.Validate(g)
			Expect(kinds(issues)).To(ConsistOf(ir.ErrStackUnderflow))
			Expect(issues[0].Index).To(Equal(0))
			Expect(issues[0].Loc.Line).To(Equal(7))
			Expect(issues[0].String()).To(ContainSubstring("line 7"))
		})

		It("should report an unbound jump with its instruction index", func() {
			g := cfg.NewGraph(v1)
			nowhere := g.NewLabel()
			Expect(g.Entry().Append(
				ir.MustNew(v1, "PUSH_CONST", ir.Imm(0)),
				ir.MustNew(v1, "PUSH_CONST", ir.Imm(0)),
				ir.MustNew(v1, "JUMP", ir.Ref(nowhere)),
			)).To(Succeed())

			issues := flow.Validate(g)
			Expect(issues).To(HaveLen(1))
			Expect(issues[0].Kind).To(MatchError(ir.ErrUnresolvedLabel))
			Expect(issues[0].Index).To(Equal(2))
		})
	})

	Context("unreachable code", func() {
		It("should warn without failing", func() {
			g := graphOf(v1, func(b *ir.Builder) {
				b.EmitArg("PUSH_CONST", 0)
				b.Emit("RETURN")
			})
			dead, err := g.AddBlock(
				ir.MustNew(v1, "POP_TOP", ir.None),
				ir.MustNew(v1, "RETURN", ir.None),
			)
			Expect(err).NotTo(HaveOccurred())

			issues := flow.Validate(g)
			Expect(issues).To(HaveLen(1))
			Expect(issues[0].Kind).To(Equal(flow.ErrUnreachable))
			Expect(issues[0].Severity).To(Equal(flow.SeverityWarning))
			Expect(issues[0].Block).To(Equal(dead))
			Expect(flow.HasErrors(issues)).To(BeFalse())
			Expect(flow.FirstError(issues)).To(Succeed())
		})
	})

	Context("exception table", func() {
		build := func(depth int, lasti bool) *cfg.Graph {
			return graphOf(v3, func(b *ir.Builder) {
				handler := b.NewLabel()
				b.EmitArg("RESUME", 0)
				b.EmitArg("PUSH_CONST", 0)
				b.TryBegin(handler, depth, lasti)
				b.EmitArg("LOAD_NAME", 0)
				b.EmitArg("CALL", 0)
				b.Emit("POP_TOP")
				b.TryEnd()
				b.Emit("RETURN")
				b.Mark(handler)
				b.Emit("PUSH_EXC_INFO")
				b.Emit("RERAISE")
			})
		}

		It("should derive the handler depth from the covered blocks", func() {
			g := build(cfg.AutoDepth, false)
			res, issues := flow.Analyze(g)
			Expect(issues).To(BeEmpty())

			r := g.Ranges()[0]
			Expect(res.HandlerDepth[r]).To(Equal(1))
			Expect(res.EntryDepth[r.Handler]).To(Equal(2))
			Expect(res.MaxStack).To(Equal(3))
		})

		It("should count the pushed offset", func() {
			g := build(cfg.AutoDepth, true)
			res, issues := flow.Analyze(g)
			Expect(issues).To(BeEmpty())
			Expect(res.EntryDepth[g.Ranges()[0].Handler]).To(Equal(3))
			Expect(res.MaxStack).To(Equal(4))
		})

		It("should accept an explicit depth the range can unwind to", func() {
			g := build(0, false)
			res, issues := flow.Analyze(g)
			Expect(issues).To(BeEmpty())
			Expect(res.HandlerDepth[g.Ranges()[0]]).To(Equal(0))
		})

		It("should reject an explicit depth above the stack inside the range", func() {
			g := build(3, false)
			issues := flow.Validate(g)
			Expect(kinds(issues)).To(ContainElement(MatchError(ir.ErrInvalidExceptionRange)))
		})

		It("should reject overlapping ranges", func() {
			g := build(cfg.AutoDepth, false)
			r := g.Ranges()[0]
			_, err := g.AddRange(cfg.ExceptionRange{First: g.Entry(), Last: r.First, Handler: r.Handler, Depth: cfg.AutoDepth})
			Expect(err).NotTo(HaveOccurred())

			res, issues := flow.Analyze(g)
			Expect(res).To(BeNil())
			Expect(kinds(issues)).To(ConsistOf(MatchError(ir.ErrInvalidExceptionRange)))
		})
	})
})
