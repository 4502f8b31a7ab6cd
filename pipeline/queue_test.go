// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package pipeline

import (
	"fmt"

	"github.com/pkg/errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

type testElement struct {
	first, last uint64
	shared      bool
}

func (te *testElement) FirstID() uint64    { return te.first }
func (te *testElement) LastID() uint64     { return te.last }
func (te *testElement) LastIDShared() bool { return te.shared }
func (te *testElement) String() string     { return fmt.Sprintf("[%d, %d]", te.first, te.last) }

func single(id uint64) *testElement { return &testElement{first: id, last: id} }

var _ = Describe("Queue", func() {
	var q *Queue[int]
	BeforeEach(func() {
		q = NewQueue[int]("test", 16)
	})

	It("hands out elements in FIFO order", func() {
		for i := 0; i < 3; i++ {
			Expect(q.Enqueue(i)).To(Succeed())
		}
		Expect(q.Len()).To(Equal(3))
		for i := 0; i < 3; i++ {
			v, ok, err := q.Dequeue()
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(v).To(Equal(i))
		}
	})

	It("drains remaining elements after it is done", func() {
		Expect(q.Enqueue(1)).To(Succeed())
		Expect(q.Halt(false)).To(Succeed())
		Expect(q.State()).To(Equal(StateDone))
		Expect(q.Enqueue(2)).ToNot(Succeed())

		v, ok, err := q.Dequeue()
		Expect(err).ToNot(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal(1))

		_, ok, err = q.Dequeue()
		Expect(err).ToNot(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("fails every operation once aborted", func() {
		Expect(q.Enqueue(1)).To(Succeed())
		Expect(q.Halt(true)).To(Succeed())

		_, _, err := q.Dequeue()
		Expect(errors.Cause(err)).To(Equal(ErrAborted))
		Expect(errors.Cause(q.Enqueue(2))).To(Equal(ErrAborted))
	})

	It("may be aborted after it is done, but not the reverse", func() {
		Expect(q.Halt(false)).To(Succeed())
		Expect(q.Halt(true)).To(Succeed())
		Expect(q.Halt(false)).ToNot(Succeed())
		Expect(q.State()).To(Equal(StateAborted))
	})

	It("wakes a blocked consumer", func() {
		resultC := make(chan int)
		go func() {
			defer GinkgoRecover()
			v, ok, err := q.Dequeue()
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeTrue())
			resultC <- v
		}()
		Consistently(resultC).ShouldNot(Receive())
		Expect(q.Enqueue(42)).To(Succeed())
		Eventually(resultC).Should(Receive(Equal(42)))
	})

	It("wakes a blocked consumer when halted", func() {
		errC := make(chan error)
		go func() {
			_, _, err := q.Dequeue()
			errC <- err
		}()
		Expect(q.Halt(true)).To(Succeed())
		var err error
		Eventually(errC).Should(Receive(&err))
		Expect(errors.Cause(err)).To(Equal(ErrAborted))
	})

	Context("when bounded", func() {
		BeforeEach(func() {
			q = NewQueue[int]("bounded", 4)
		})

		It("blocks a fast producer until a slow consumer catches up", func() {
			const count = 200
			errC := make(chan error, 1)
			go func() {
				for i := 0; i < count; i++ {
					if err := q.Enqueue(i); err != nil {
						errC <- err
						return
					}
				}
				errC <- q.Halt(false)
			}()

			Eventually(q.Len).Should(Equal(4))
			Consistently(q.Len).Should(Equal(4))

			for i := 0; i < count; i++ {
				v, ok, err := q.Dequeue()
				Expect(err).ToNot(HaveOccurred())
				Expect(ok).To(BeTrue())
				Expect(v).To(Equal(i))
				Expect(q.Len()).To(BeNumerically("<=", q.Cap()))
			}
			Eventually(errC).Should(Receive(BeNil()))
			Expect(q.Peak()).To(Equal(q.Cap()))
		})

		It("wakes a blocked producer when halted", func() {
			for i := 0; i < 4; i++ {
				Expect(q.Enqueue(i)).To(Succeed())
			}
			errC := make(chan error, 1)
			go func() {
				errC <- q.Enqueue(4)
			}()
			Consistently(errC).ShouldNot(Receive())

			Expect(q.Halt(true)).To(Succeed())
			var err error
			Eventually(errC).Should(Receive(&err))
			Expect(errors.Cause(err)).To(Equal(ErrAborted))
			Expect(q.Peak()).To(Equal(4))
		})

		It("treats a capacity below one as one", func() {
			Expect(NewQueue[int]("tiny", 0).Cap()).To(Equal(1))
		})
	})
})

var _ = Describe("OrderedQueue", func() {
	var q *OrderedQueue[*testElement]
	BeforeEach(func() {
		q = NewOrderedQueue[*testElement]("test", 16)
	})

	dequeueID := func() uint64 {
		v, ok, err := q.Dequeue()
		Expect(err).ToNot(HaveOccurred())
		Expect(ok).To(BeTrue())
		return v.FirstID()
	}

	It("hands out elements in sequence order", func() {
		for _, id := range []uint64{2, 0, 3, 1} {
			Expect(q.Enqueue(single(id))).To(Succeed())
		}
		for id := uint64(0); id < 4; id++ {
			Expect(dequeueID()).To(Equal(id))
		}
	})

	It("follows ranges and shared last IDs", func() {
		Expect(q.Enqueue(&testElement{first: 4, last: 4})).To(Succeed())
		Expect(q.Enqueue(&testElement{first: 2, last: 3})).To(Succeed())
		Expect(q.Enqueue(&testElement{first: 0, last: 2, shared: true})).To(Succeed())

		Expect(dequeueID()).To(Equal(uint64(0)))
		Expect(dequeueID()).To(Equal(uint64(2)))
		Expect(dequeueID()).To(Equal(uint64(4)))
	})

	It("rejects duplicate and inverted entries", func() {
		Expect(q.Enqueue(single(1))).To(Succeed())
		Expect(q.Enqueue(single(1))).To(MatchError(ContainSubstring("duplicate")))
		Expect(q.Enqueue(&testElement{first: 3, last: 2})).ToNot(Succeed())
	})

	It("rejects a double halt", func() {
		Expect(q.Halt(false)).To(Succeed())
		Expect(q.Halt(true)).To(MatchError(ContainSubstring("double halt")))
	})

	It("blocks until the next element arrives", func() {
		Expect(q.Enqueue(single(1))).To(Succeed())

		resultC := make(chan uint64)
		go func() {
			defer GinkgoRecover()
			resultC <- dequeueID()
		}()
		Consistently(resultC).ShouldNot(Receive())
		Expect(q.Enqueue(single(0))).To(Succeed())
		Eventually(resultC).Should(Receive(Equal(uint64(0))))
		Expect(dequeueID()).To(Equal(uint64(1)))
	})

	It("drains contiguous elements after it is done", func() {
		Expect(q.Enqueue(single(0))).To(Succeed())
		Expect(q.Enqueue(single(1))).To(Succeed())
		Expect(q.Enqueue(single(3))).To(Succeed())
		Expect(q.Halt(false)).To(Succeed())

		Expect(dequeueID()).To(Equal(uint64(0)))
		Expect(dequeueID()).To(Equal(uint64(1)))
		_, ok, err := q.Dequeue()
		Expect(err).ToNot(HaveOccurred())
		Expect(ok).To(BeFalse())
		Expect(q.Len()).To(Equal(1))
	})

	It("fails every operation once aborted", func() {
		Expect(q.Enqueue(single(0))).To(Succeed())
		Expect(q.Halt(true)).To(Succeed())
		_, _, err := q.Dequeue()
		Expect(errors.Cause(err)).To(Equal(ErrAborted))
		Expect(errors.Cause(q.Enqueue(single(1)))).To(Equal(ErrAborted))
	})

	It("rejects elements behind the next expected ID", func() {
		Expect(q.Enqueue(single(0))).To(Succeed())
		Expect(dequeueID()).To(Equal(uint64(0)))
		Expect(q.Enqueue(single(0))).To(MatchError(ContainSubstring("behind")))
	})

	Context("when bounded", func() {
		BeforeEach(func() {
			q = NewOrderedQueue[*testElement]("bounded", 2)
		})

		It("holds back elements beyond its window", func() {
			Expect(q.Enqueue(single(1))).To(Succeed())
			Expect(q.Enqueue(single(0))).To(Succeed())

			errC := make(chan error, 1)
			go func() {
				errC <- q.Enqueue(single(2))
			}()
			Consistently(errC).ShouldNot(Receive())
			Expect(q.Len()).To(Equal(2))

			Expect(dequeueID()).To(Equal(uint64(0)))
			Eventually(errC).Should(Receive(BeNil()))
			Expect(dequeueID()).To(Equal(uint64(1)))
			Expect(dequeueID()).To(Equal(uint64(2)))
			Expect(q.Peak()).To(BeNumerically("<=", q.Cap()))
		})

		It("always admits the next expected element", func() {
			Expect(q.Enqueue(single(1))).To(Succeed())
			Expect(q.Enqueue(single(0))).To(Succeed())
			Expect(dequeueID()).To(Equal(uint64(0)))
			Expect(dequeueID()).To(Equal(uint64(1)))

			Expect(q.Enqueue(single(2))).To(Succeed())
			Expect(dequeueID()).To(Equal(uint64(2)))
		})

		It("wakes a blocked producer when aborted", func() {
			errC := make(chan error, 1)
			go func() {
				errC <- q.Enqueue(single(5))
			}()
			Consistently(errC).ShouldNot(Receive())

			Expect(q.Halt(true)).To(Succeed())
			var err error
			Eventually(errC).Should(Receive(&err))
			Expect(errors.Cause(err)).To(Equal(ErrAborted))
		})
	})
})
