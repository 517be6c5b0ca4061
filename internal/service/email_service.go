package service

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"micro-agent-go/internal/config"
	"micro-agent-go/internal/model"
	"micro-agent-go/internal/repository"
	"micro-agent-go/pkg/kafka"
	"micro-agent-go/pkg/log"
	"micro-agent-go/pkg/tasks"
)

// EmailService 负责出站邮件：先落库再投递 Kafka 任务，
// 由消费者异步完成实际发送并回写状态。
type EmailService interface {
	// QueueEmail 入库一封待发邮件并投递异步发送任务。
	QueueEmail(toAddress, subject, body string) error
	// Process 实现 kafka.TaskProcessor，执行实际的邮件发送。
	Process(ctx context.Context, task tasks.EmailDispatchTask) error
}

// EmailSender 抽象底层的邮件投递通道，便于测试替换。
type EmailSender interface {
	Send(toAddress, subject, body string) error
}

type emailService struct {
	emails repository.EmailRepository
	sender EmailSender
}

// NewEmailService 创建一个新的 EmailService 实例。
func NewEmailService(emails repository.EmailRepository, sender EmailSender) EmailService {
	return &emailService{emails: emails, sender: sender}
}

func (s *emailService) QueueEmail(toAddress, subject, body string) error {
	email := &model.OutboundEmail{
		ToAddress: toAddress,
		Subject:   subject,
		Body:      body,
		Status:    model.EmailStatusQueued,
	}
	if err := s.emails.Create(context.Background(), email); err != nil {
		return fmt.Errorf("邮件入库失败: %w", err)
	}

	task := tasks.EmailDispatchTask{EmailID: email.ID, ToAddress: toAddress}
	if err := kafka.ProduceEmailTask(task); err != nil {
		// 任务投递失败时邮件保留在 queued 状态，等待人工或定时重试
		return fmt.Errorf("邮件任务投递失败: %w", err)
	}
	return nil
}

// Process 执行一封邮件的实际发送并回写投递状态。
// 返回错误意味着消费者会按重试策略重新投递。
func (s *emailService) Process(ctx context.Context, task tasks.EmailDispatchTask) error {
	email, err := s.emails.FindByID(ctx, task.EmailID)
	if err != nil {
		return fmt.Errorf("读取邮件记录失败: emailID=%d, %w", task.EmailID, err)
	}
	if email.Status == model.EmailStatusSent {
		// 重复投递的任务直接跳过
		return nil
	}

	if err := s.sender.Send(email.ToAddress, email.Subject, email.Body); err != nil {
		if updateErr := s.emails.UpdateStatus(ctx, email.ID, model.EmailStatusFailed); updateErr != nil {
			log.Errorf("回写邮件失败状态出错: emailID=%d, error=%v", email.ID, updateErr)
		}
		return fmt.Errorf("发送邮件失败: %w", err)
	}

	if err := s.emails.UpdateStatus(ctx, email.ID, model.EmailStatusSent); err != nil {
		log.Errorf("回写邮件已发送状态出错: emailID=%d, error=%v", email.ID, err)
	}
	log.Infof("邮件发送成功: emailID=%d, to=%s", email.ID, email.ToAddress)
	return nil
}

// smtpSender 是基于 SMTP 的 EmailSender 实现。
type smtpSender struct {
	cfg config.EmailConfig
}

// NewSMTPSender 创建一个基于 SMTP 的邮件发送器。
func NewSMTPSender(cfg config.EmailConfig) EmailSender {
	return &smtpSender{cfg: cfg}
}

func (s *smtpSender) Send(toAddress, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.SMTPHost, s.cfg.SMTPPort)
	auth := smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)

	msg := strings.Join([]string{
		fmt.Sprintf("From: %s <%s>", s.cfg.SenderName, s.cfg.SenderAddress),
		"To: " + toAddress,
		"Subject: " + subject,
		"Content-Type: text/plain; charset=UTF-8",
		"",
		body,
	}, "\r\n")

	return smtp.SendMail(addr, auth, s.cfg.SenderAddress, []string{toAddress}, []byte(msg))
}
