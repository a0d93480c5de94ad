/*
 * Copyright 2026 Memkit Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package dlist implements the intrusive circular doubly linked list that
// threads free blocks through the memory they describe. A List is a sentinel
// whose links point back to itself when empty; a Node is the pair of links
// living at the head of every free block. The smallest block an allocator
// hands out must be at least NodeSize bytes so the links always fit.
package dlist

import "unsafe"

// NodeSize is the number of bytes a Node occupies at the head of a free block.
const NodeSize = int(unsafe.Sizeof(Node{}))

// Node is a pair of links embedded at the start of a free block.
// An unlinked Node points to itself on both sides.
type Node struct {
	prev *Node
	next *Node
}

// At reinterprets the memory at p as a Node.
func At(p unsafe.Pointer) *Node { return (*Node)(p) }

// Pointer returns the address of the block the node is embedded in.
func (n *Node) Pointer() unsafe.Pointer { return unsafe.Pointer(n) }

// Remove unlinks n from whatever list it is on and leaves it pointing to
// itself. Safe to call on an already unlinked node.
func Remove(n *Node) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev = n
	n.next = n
}

// List is a sentinel-headed circular list of free blocks.
// The zero value is not ready for use; call Init first.
type List struct {
	head Node
}

// Init resets the list to empty. It may be called again at any time to drop
// every node without visiting them.
func (l *List) Init() {
	l.head.prev = &l.head
	l.head.next = &l.head
}

// Empty reports whether the list holds no nodes.
func (l *List) Empty() bool { return l.head.next == &l.head }

// PushBack appends n at the tail.
func (l *List) PushBack(n *Node) {
	n.prev = l.head.prev
	n.next = &l.head
	l.head.prev.next = n
	l.head.prev = n
}

// Front returns the first node without unlinking it, or nil if the list is
// empty.
func (l *List) Front() *Node {
	if l.Empty() {
		return nil
	}
	return l.head.next
}

// Len walks the list and returns the number of nodes on it.
func (l *List) Len() int {
	n := 0
	for node := l.head.next; node != &l.head; node = node.next {
		n++
	}
	return n
}

// PopFront unlinks and returns the first node, or nil if the list is empty.
func (l *List) PopFront() *Node {
	if l.Empty() {
		return nil
	}
	first := l.head.next
	first.next.prev = &l.head
	l.head.next = first.next
	first.prev = first
	first.next = first
	return first
}
