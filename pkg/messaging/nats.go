// pkg/messaging/nats.go
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"PortfolioAgent/pkg/logger"
)

// ErrNotConnected NATS连接不可用
var ErrNotConnected = errors.New("NATS未连接")

// Publisher 事件发布接口
type Publisher interface {
	Publish(subject string, data interface{}) error
}

// NATSClient NATS JetStream 事件发布客户端
type NATSClient struct {
	conn      *nats.Conn
	jetStream jetstream.JetStream
	prefix    string
	log       *logger.Logger
	timeout   time.Duration
	stream    bool
}

// NewNATSClient 连接NATS并确保事件Stream存在
func NewNATSClient(natsURL, prefix string, log *logger.Logger) (*NATSClient, error) {
	nc, err := nats.Connect(natsURL,
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1), // 无限重连
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("NATS连接断开", logger.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS重新连接成功")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("连接NATS失败: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("创建JetStream失败: %w", err)
	}

	client := &NATSClient{
		conn:      nc,
		jetStream: js,
		prefix:    prefix,
		log:       log,
		timeout:   5 * time.Second,
	}

	if err := client.setupStream(); err != nil {
		log.Warn("设置Stream失败，事件将仅以核心NATS发布", logger.Error(err))
	} else {
		client.stream = true
	}
	return client, nil
}

// setupStream 创建刷新与任务事件Stream
func (c *NATSClient) setupStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	_, err := c.jetStream.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName(c.prefix),
		Subjects:    []string{c.prefix + ".>"},
		Description: "数据刷新与批量任务事件",
		Retention:   jetstream.LimitsPolicy,
		MaxMsgs:     100000,
		MaxBytes:    100 * 1024 * 1024,  // 100MB
		MaxAge:      7 * 24 * time.Hour, // 保留7天
	})
	return err
}

// StreamName 由主题前缀生成Stream名称
func StreamName(prefix string) string {
	return strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(prefix)) + "_EVENTS"
}

// Subject 拼接带前缀的主题
func Subject(prefix, subject string) string {
	if prefix == "" {
		return subject
	}
	return prefix + "." + subject
}

// Publish 发布消息到 <prefix>.<subject>
func (c *NATSClient) Publish(subject string, data interface{}) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	payload, err := Encode(data)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	full := Subject(c.prefix, subject)
	if c.stream {
		if _, err := c.jetStream.Publish(ctx, full, payload); err != nil {
			return fmt.Errorf("发布消息到 %s 失败: %w", full, err)
		}
	} else if err := c.conn.Publish(full, payload); err != nil {
		return fmt.Errorf("发布消息到 %s 失败: %w", full, err)
	}

	c.log.Debug("发布事件", logger.String("subject", full), logger.Int("bytes", len(payload)))
	return nil
}

// Encode 将事件编码为消息体
func Encode(data interface{}) ([]byte, error) {
	switch v := data.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		payload, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("序列化数据失败: %w", err)
		}
		return payload, nil
	}
}

// IsConnected 检查连接状态
func (c *NATSClient) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Close 关闭连接，先冲刷未发送消息
func (c *NATSClient) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Drain()
	c.log.Info("NATS连接已关闭")
	return err
}

// NoopPublisher 未配置NATS时丢弃事件
type NoopPublisher struct{}

func (NoopPublisher) Publish(string, interface{}) error { return nil }
