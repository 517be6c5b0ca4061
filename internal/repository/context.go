// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"

	"micro-agent-go/internal/model"
)

type contextKey int

const userContextKey contextKey = iota

// WithUser 将已认证用户写入请求上下文。存储层的镜像路径依赖该值做准入判断。
func WithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext 从上下文中取出已认证用户，不存在时返回 nil。
func UserFromContext(ctx context.Context) *model.User {
	user, _ := ctx.Value(userContextKey).(*model.User)
	return user
}
