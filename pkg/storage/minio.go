// Package storage 提供了与对象存储服务（如 MinIO）交互的功能。
// 文档的抽取文本以对象形式保存在这里，索引器通过 GetDocumentText 读取。
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"doc-chat-go/internal/config"
	"doc-chat-go/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioClient 是一个全局的 MinIO 客户端实例。
var MinioClient *minio.Client

// InitMinIO 初始化 MinIO 客户端并确保指定的存储桶存在。
func InitMinIO(cfg config.MinIOConfig) {
	var err error

	MinioClient, err = minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		log.Fatal("初始化 MinIO 客户端失败", err)
	}

	log.Info("MinIO 客户端初始化成功")

	// 检查存储桶是否存在，不存在则创建
	ctx := context.Background()
	bucketName := cfg.BucketName
	exists, err := MinioClient.BucketExists(ctx, bucketName)
	if err != nil {
		log.Fatal("检查 MinIO 存储桶失败", err)
	}

	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", bucketName)
		err = MinioClient.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{})
		if err != nil {
			log.Fatal("创建 MinIO 存储桶失败", err)
		}
		log.Infof("存储桶 '%s' 创建成功", bucketName)
	} else {
		log.Infof("存储桶 '%s' 已存在", bucketName)
	}
}

// textObjectName 返回文档抽取文本的对象路径。
func textObjectName(documentID string) string {
	return fmt.Sprintf("documents/%s.txt", documentID)
}

// PutDocumentText 将文档的抽取文本写入对象存储。
func PutDocumentText(ctx context.Context, bucketName, documentID, text string) error {
	reader := strings.NewReader(text)
	_, err := MinioClient.PutObject(ctx, bucketName, textObjectName(documentID), reader, int64(reader.Len()), minio.PutObjectOptions{
		ContentType: "text/plain; charset=utf-8",
	})
	if err != nil {
		return fmt.Errorf("写入文档文本到 MinIO 失败: %w", err)
	}
	return nil
}

// GetDocumentText 读取文档的抽取文本。
func GetDocumentText(ctx context.Context, bucketName, documentID string) (string, error) {
	object, err := MinioClient.GetObject(ctx, bucketName, textObjectName(documentID), minio.GetObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("从 MinIO 读取文档文本失败: %w", err)
	}
	defer object.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, object); err != nil {
		return "", fmt.Errorf("读取 MinIO 对象流失败: %w", err)
	}
	return buf.String(), nil
}

// DeleteDocumentText 删除文档的文本对象。
func DeleteDocumentText(ctx context.Context, bucketName, documentID string) error {
	err := MinioClient.RemoveObject(ctx, bucketName, textObjectName(documentID), minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("删除 MinIO 文档文本失败: %w", err)
	}
	return nil
}
