// Package repository 提供了数据访问层的实现。
package repository

import "errors"

// ErrNotFound 表示按标识查找的会话、消息或记录不存在。
// 它总是向直接调用方传播，不做重试。
var ErrNotFound = errors.New("record not found")
