// Copyright (C) 2019-2020 Zilliz. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License
// is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express
// or implied. See the License for the specific language governing permissions and limitations under the License.

package retry

import (
	"context"
	"runtime"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lk2023060901/pixelbridge/pkg/log"
	"github.com/lk2023060901/pixelbridge/pkg/util/merr"
)

func getCaller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	return file + ":" + strconv.Itoa(line)
}

// Do 使用重试机制执行指定函数。
// fn 为待执行的函数。
// opts 用于控制最大重试次数、初始休眠时间等行为。
//
// 行为：
//   - 退避间隔从 sleep 开始按 2 倍增长，上限为 maxSleepTime；
//   - fn 返回不可恢复错误（Unrecoverable）或 isRetryErr 判定为 false 时立即返回该错误；
//   - ctx 结束时返回最后一次 fn 的错误（若尚无错误则返回 ctx.Err()）。
func Do(ctx context.Context, fn func() error, opts ...Option) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	log := log.Ctx(ctx)
	c := newDefaultConfig()
	for _, opt := range opts {
		opt(c)
	}

	caller := getCaller(2)
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.sleep
	exp.MaxInterval = c.maxSleepTime
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0

	var policy backoff.BackOff = exp
	if c.attempts > 0 {
		policy = backoff.WithMaxRetries(policy, uint64(c.attempts-1))
	}
	policy = backoff.WithContext(policy, ctx)

	var (
		lastErr error
		retried uint
	)
	operation := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !IsRecoverable(err) {
			log.Warn("retry func failed, not be recoverable",
				zap.Uint("retried", retried),
				zap.Uint("attempt", c.attempts),
				zap.String("caller", caller),
				zap.Error(err),
			)
			return backoff.Permanent(err)
		}
		if c.isRetryErr != nil && !c.isRetryErr(err) {
			log.Warn("retry func failed, not be retryable",
				zap.Uint("retried", retried),
				zap.Uint("attempt", c.attempts),
				zap.String("caller", caller),
				zap.Error(err),
			)
			return backoff.Permanent(err)
		}
		lastErr = err
		return err
	}
	notify := func(err error, next time.Duration) {
		if retried%4 == 0 {
			log.Warn("retry func failed",
				zap.Uint("retried", retried),
				zap.Duration("next", next),
				zap.String("caller", caller),
				zap.Error(err),
			)
		}
		retried++
	}

	err := backoff.RetryNotify(operation, policy, notify)
	if err == nil {
		return nil
	}
	if errors.IsAny(err, context.Canceled, context.DeadlineExceeded) && lastErr != nil {
		log.Warn("retry func failed, ctx done",
			zap.Uint("retried", retried),
			zap.Uint("attempt", c.attempts),
			zap.String("caller", caller),
		)
		return lastErr
	}
	if lastErr != nil && errors.Is(err, lastErr) {
		log.Warn("retry func failed, reach max retry",
			zap.Uint("attempt", c.attempts),
			zap.String("caller", caller),
		)
	}
	return err
}

// errUnrecoverable 表示不可恢复错误的标记实例。
var errUnrecoverable = errors.New("unrecoverable error")

// Unrecoverable 将错误包装为不可恢复错误，使重试逻辑能够快速返回。
func Unrecoverable(err error) error {
	return merr.Combine(err, errUnrecoverable)
}

// IsRecoverable 判断给定错误是否为“可恢复”错误。
func IsRecoverable(err error) bool {
	return !errors.Is(err, errUnrecoverable)
}
