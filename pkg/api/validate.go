package api

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/creasty/defaults"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	// 错误信息中使用 json/form 字段名
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "form"} {
			name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return f.Name
	})
}

// ValidationError 单个字段的校验错误
type ValidationError struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// bindJSON 解析请求体、填充默认值并校验；空请求体视为 {}
func bindJSON(c *gin.Context, req interface{}) error {
	if err := c.ShouldBindJSON(req); err != nil && !errors.Is(err, io.EOF) {
		return BadRequestError("请求体格式错误").WithError(err)
	}
	return check(c, req)
}

// bindQuery 解析查询参数、填充默认值并校验
func bindQuery(c *gin.Context, req interface{}) error {
	if err := c.ShouldBindQuery(req); err != nil {
		return BadRequestError("查询参数格式错误").WithError(err)
	}
	return check(c, req)
}

func check(c *gin.Context, req interface{}) error {
	if err := defaults.Set(req); err != nil {
		return InternalError("设置默认值失败").WithError(err)
	}
	if err := validate.StructCtx(c.Request.Context(), req); err != nil {
		return BadRequestError("参数校验失败").WithError(err).WithDetails(validationDetails(err))
	}
	return nil
}

func validationDetails(err error) []ValidationError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []ValidationError{{Code: "ERR_UNKNOWN", Message: err.Error()}}
	}
	out := make([]ValidationError, 0, len(verrs))
	for _, e := range verrs {
		out = append(out, ValidationError{
			Code:    "ERR_" + strings.ToUpper(e.Tag()),
			Field:   e.Field(),
			Message: errorMessage(e),
		})
	}
	return out
}

func errorMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s 不能为空", field)
	case "min", "gte":
		return fmt.Sprintf("%s 不能小于 %s", field, fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s 不能大于 %s", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s 必须大于 %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s 必须是以下之一: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	default:
		return fmt.Sprintf("%s 校验失败: %s", field, fe.Tag())
	}
}
